package playout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/observability"
	"github.com/fieldcast/fieldcast/internal/repository"
)

// Pruner deletes consumed playout items older than the retention window
// on a cron schedule.
type Pruner struct {
	items  repository.PlayoutItemRepository
	cfg    config.PlayoutConfig
	logger *slog.Logger
	cron   *cron.Cron
}

// NewPruner creates a Pruner; call Start to arm the schedule.
func NewPruner(items repository.PlayoutItemRepository, cfg config.PlayoutConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		items:  items,
		cfg:    cfg,
		logger: observability.WithComponent(logger, "playout-prune"),
		cron:   cron.New(),
	}
}

// Start arms the cron schedule.
func (p *Pruner) Start() error {
	if _, err := p.cron.AddFunc(p.cfg.PruneSchedule, p.runOnce); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.cfg.PruneSchedule, err)
	}
	p.cron.Start()
	return nil
}

// Stop disarms the schedule, waiting for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Pruner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-p.cfg.Retention)
	removed, err := p.items.DeleteConsumedBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("pruning consumed items failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		p.logger.Info("pruned consumed playout items",
			slog.Int64("removed", removed),
			slog.Time("cutoff", cutoff),
		)
	}
}
