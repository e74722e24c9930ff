// Package watchdog detects stalled playout pipelines and kills them.
//
// Supervisors register their running process and report every chunk of
// output. A single ticker goroutine scans all registrations; any process
// silent for longer than the output timeout is stopped and its supervisor
// notified, which treats the kill like any other pipeline failure.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/observability"
)

// Stopper terminates a supervised process. Stop is a deliberate,
// clean-looking shutdown; Abort marks the termination as a failure so the
// process owner sees the kill instead of a clean exit. Implementations
// must be safe to call more than once.
type Stopper interface {
	Stop()
	Abort(cause error)
}

// TimeoutFunc is invoked after a stalled process was stopped. Called
// without any watchdog lock held.
type TimeoutFunc func(channelID models.ULID, silentFor time.Duration)

// entry tracks one supervised process.
type entry struct {
	proc         Stopper
	onTimeout    TimeoutFunc
	lastOutputAt time.Time
	bytes        int64
}

// Stats is a snapshot of one watched process.
type Stats struct {
	ChannelID    models.ULID   `json:"channel_id"`
	LastOutputAt time.Time     `json:"last_output_at"`
	SilentFor    time.Duration `json:"silent_for"`
	Bytes        int64         `json:"bytes"`
}

// Watchdog watches registered processes for output stalls.
type Watchdog struct {
	cfg    config.WatchdogConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[models.ULID]*entry
	kills   int64
}

// New creates a Watchdog.
func New(cfg config.WatchdogConfig, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		cfg:     cfg,
		logger:  observability.WithComponent(logger, "watchdog"),
		now:     time.Now,
		entries: make(map[models.ULID]*entry),
	}
}

// Register starts watching proc for the channel. A previous registration
// for the same channel is stopped first; one channel runs one pipeline.
func (w *Watchdog) Register(channelID models.ULID, proc Stopper, onTimeout TimeoutFunc) {
	w.mu.Lock()
	prev := w.entries[channelID]
	w.entries[channelID] = &entry{
		proc:         proc,
		onTimeout:    onTimeout,
		lastOutputAt: w.now(),
	}
	w.mu.Unlock()

	if prev != nil {
		w.logger.Warn("replacing watched process", slog.String("channel_id", channelID.String()))
		prev.proc.Stop()
	}
}

// ReportOutput records pipeline output for the channel.
func (w *Watchdog) ReportOutput(channelID models.ULID, bytes int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.entries[channelID]; ok {
		e.lastOutputAt = w.now()
		e.bytes += int64(bytes)
	}
}

// Unregister stops watching the channel without touching the process.
func (w *Watchdog) Unregister(channelID models.ULID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, channelID)
}

// Run scans on the configured interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.CheckAll()
		}
	}
}

// CheckAll stops every process silent past the output timeout. Stops and
// callbacks run after the lock is released.
func (w *Watchdog) CheckAll() {
	type stalled struct {
		channelID models.ULID
		e         *entry
		silent    time.Duration
	}

	w.mu.Lock()
	now := w.now()
	var timedOut []stalled
	for channelID, e := range w.entries {
		silent := now.Sub(e.lastOutputAt)
		if silent > w.cfg.OutputTimeout {
			timedOut = append(timedOut, stalled{channelID, e, silent})
			delete(w.entries, channelID)
			w.kills++
		}
	}
	w.mu.Unlock()

	for _, s := range timedOut {
		w.logger.Warn("pipeline stalled, stopping process",
			slog.String("channel_id", s.channelID.String()),
			slog.Duration("silent_for", s.silent),
		)
		s.e.proc.Abort(fmt.Errorf("no output for %s", s.silent))
		if s.e.onTimeout != nil {
			s.e.onTimeout(s.channelID, s.silent)
		}
	}
}

// Kills returns the number of processes killed for stalling.
func (w *Watchdog) Kills() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.kills
}

// StatsAll returns a snapshot of every watched process.
func (w *Watchdog) StatsAll() []Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	out := make([]Stats, 0, len(w.entries))
	for channelID, e := range w.entries {
		out = append(out, Stats{
			ChannelID:    channelID,
			LastOutputAt: e.lastOutputAt,
			SilentFor:    now.Sub(e.lastOutputAt),
			Bytes:        e.bytes,
		})
	}
	return out
}
