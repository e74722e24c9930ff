package stream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fieldcast/fieldcast/internal/config"
)

// Throttle modes.
const (
	ThrottleRealtime = "realtime"
	ThrottleBurst    = "burst"
	ThrottleAdaptive = "adaptive"
	ThrottleDisabled = "disabled"
)

// Adaptive mode bounds and thresholds.
const (
	adaptiveMin       = 0.5
	adaptiveMax       = 1.2
	adaptiveSlowDelay = 100 * time.Millisecond
	adaptiveFastDelay = 20 * time.Millisecond
	adaptiveDecrease  = 0.95
	adaptiveIncrease  = 1.02
)

// Throttle paces pipeline output toward clients at roughly the target
// bitrate, so a fast source (a local file over stream-copy) does not land
// in client buffers minutes ahead of the schedule.
type Throttle struct {
	mode     string
	baseRate float64 // bytes per second
	limiter  *rate.Limiter
	now      func() time.Time

	mu         sync.Mutex
	multiplier float64
}

// NewThrottle creates a throttle from the delivery configuration.
func NewThrottle(cfg config.DeliveryConfig) *Throttle {
	bytesPerSec := float64(cfg.TargetBitrate.Int64()) / 8

	burst := int(bytesPerSec * cfg.BurstWindow.Seconds())
	if cfg.ThrottleMode != ThrottleBurst {
		// Realtime/adaptive allow a single max-size chunk through at once.
		burst = 256 * 1024
	}
	if burst < 64*1024 {
		burst = 64 * 1024
	}

	return &Throttle{
		mode:       cfg.ThrottleMode,
		baseRate:   bytesPerSec,
		limiter:    rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		now:        time.Now,
		multiplier: 1.0,
	}
}

// Pace blocks until n bytes may pass. Disabled mode returns immediately.
func (t *Throttle) Pace(ctx context.Context, n int) error {
	if t.mode == ThrottleDisabled {
		return nil
	}
	if n > t.limiter.Burst() {
		n = t.limiter.Burst()
	}

	start := t.now()
	if err := t.limiter.WaitN(ctx, n); err != nil {
		return err
	}

	if t.mode == ThrottleAdaptive {
		t.adapt(t.now().Sub(start))
	}
	return nil
}

// adapt nudges the rate multiplier based on observed pacing delay: back
// off when waits stretch past 100ms, speed up when the limiter is idle.
func (t *Throttle) adapt(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case delay > adaptiveSlowDelay:
		t.multiplier *= adaptiveDecrease
	case delay < adaptiveFastDelay:
		t.multiplier *= adaptiveIncrease
	default:
		return
	}

	if t.multiplier < adaptiveMin {
		t.multiplier = adaptiveMin
	}
	if t.multiplier > adaptiveMax {
		t.multiplier = adaptiveMax
	}
	t.limiter.SetLimit(rate.Limit(t.baseRate * t.multiplier))
}

// Multiplier returns the current adaptive multiplier (1.0 outside
// adaptive mode).
func (t *Throttle) Multiplier() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.multiplier
}
