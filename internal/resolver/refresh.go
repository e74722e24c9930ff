package resolver

import (
	"context"
	"log/slog"
	"time"
)

// RefreshWorker sweeps the resolution cache and re-resolves entries
// approaching expiry, so playing channels never hold a URL about to
// lapse. A refresh that fails is logged and left in place; the
// supervisor's own retry policy takes over if the entry actually
// expires before the next sweep.
type RefreshWorker struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	logger    *slog.Logger
}

// NewRefreshWorker creates a worker sweeping at interval for entries that
// expire within threshold.
func NewRefreshWorker(registry *Registry, interval, threshold time.Duration, logger *slog.Logger) *RefreshWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshWorker{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "resolver-refresh")),
	}
}

// Run sweeps until ctx is cancelled.
func (w *RefreshWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RefreshWorker) sweep(ctx context.Context) {
	entries := w.registry.ExpiringEntries(w.threshold)
	if len(entries) == 0 {
		return
	}
	w.logger.Debug("refreshing expiring resolutions", slog.Int("count", len(entries)))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.registry.Resolve(ctx, entry.Ref, true); err != nil {
			w.logger.Warn("background refresh failed",
				slog.String("kind", string(entry.Resolved.Source)),
				slog.String("error", err.Error()))
		}
	}
}
