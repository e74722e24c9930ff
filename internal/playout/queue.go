// Package playout serves each channel's schedule: what plays now, what
// plays next, and what fills the gaps.
package playout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/observability"
	"github.com/fieldcast/fieldcast/internal/repository"
)

// defaultFillerDuration bounds filler items whose media duration is
// unknown, so the supervisor re-consults the schedule regularly.
const defaultFillerDuration = 5 * time.Minute

// Entry is what a channel should play at a given instant.
type Entry struct {
	// Item is the scheduled playout item, or a synthetic one for filler.
	Item *models.PlayoutItem

	// Offset is how far into the item playback should begin.
	Offset time.Duration

	// Filler marks entries synthesized from the channel's filler playlist.
	// Filler entries are not persisted and are never marked consumed.
	Filler bool
}

// Queue answers schedule queries against the persisted playout items and
// fills gaps from each channel's cyclic filler playlist.
type Queue struct {
	items  repository.PlayoutItemRepository
	cfg    config.PlayoutConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	cursors map[models.ULID]int
}

// NewQueue creates a Queue.
func NewQueue(items repository.PlayoutItemRepository, cfg config.PlayoutConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		items:   items,
		cfg:     cfg,
		logger:  observability.WithComponent(logger, "playout"),
		now:     time.Now,
		cursors: make(map[models.ULID]int),
	}
}

// Current returns what channel should play at t: the scheduled item
// covering t with the join offset, a filler entry during gaps, or nil
// when the channel has neither schedule nor filler.
func (q *Queue) Current(ctx context.Context, channel *models.Channel, t time.Time) (*Entry, error) {
	item, err := q.items.CurrentAt(ctx, channel.ID, t)
	if err != nil {
		return nil, fmt.Errorf("querying current item: %w", err)
	}
	if item != nil {
		return &Entry{Item: item, Offset: item.Offset(t)}, nil
	}

	// A gap shorter than the tolerance just waits for the next item.
	next, err := q.items.NextAfter(ctx, channel.ID, t)
	if err != nil {
		return nil, fmt.Errorf("querying next item: %w", err)
	}
	if next != nil && next.ScheduledStart.Sub(t) <= q.cfg.GapTolerance {
		return &Entry{Item: next, Offset: 0}, nil
	}

	return q.fillerEntry(channel, t, next), nil
}

// Next returns the entry following item on its channel, or nil at the
// end of the schedule.
func (q *Queue) Next(ctx context.Context, item *models.PlayoutItem) (*models.PlayoutItem, error) {
	next, err := q.items.NextAfter(ctx, item.ChannelID, item.End())
	if err != nil {
		return nil, fmt.Errorf("querying next item: %w", err)
	}
	return next, nil
}

// Advance marks item consumed. Filler entries pass through untouched.
func (q *Queue) Advance(ctx context.Context, entry *Entry) error {
	if entry.Filler {
		return nil
	}
	if err := q.items.MarkConsumed(ctx, entry.Item.ID, q.now()); err != nil {
		return fmt.Errorf("advancing queue: %w", err)
	}
	return nil
}

// Window returns the scheduled items overlapping [from, to) for guide
// generation.
func (q *Queue) Window(ctx context.Context, channelID models.ULID, from, to time.Time) ([]*models.PlayoutItem, error) {
	return q.items.ListWindow(ctx, channelID, from, to)
}

// fillerEntry synthesizes the next filler item for the channel. The
// filler playlist cycles; the duration is capped so the pipeline returns
// to the schedule no later than the next scheduled item.
func (q *Queue) fillerEntry(channel *models.Channel, t time.Time, next *models.PlayoutItem) *Entry {
	if len(channel.Filler) == 0 {
		return nil
	}

	q.mu.Lock()
	idx := q.cursors[channel.ID] % len(channel.Filler)
	q.cursors[channel.ID] = idx + 1
	q.mu.Unlock()

	ref := channel.Filler[idx].MediaRef
	duration := ref.Duration
	if duration <= 0 {
		duration = defaultFillerDuration
	}
	if next != nil {
		if until := next.ScheduledStart.Sub(t); until < duration {
			duration = until
		}
	}

	return &Entry{
		Item: &models.PlayoutItem{
			ChannelID:      channel.ID,
			MediaRefID:     ref.ID,
			MediaRef:       ref,
			ScheduledStart: t,
			Duration:       duration,
			IsFiller:       true,
		},
		Filler: true,
	}
}

// CheckSchedule validates ordering and overlap invariants for a channel's
// upcoming items, logging gaps wider than the tolerance. Returns the
// first violation found.
func (q *Queue) CheckSchedule(ctx context.Context, channelID models.ULID, from, to time.Time) error {
	items, err := q.items.ListWindow(ctx, channelID, from, to)
	if err != nil {
		return err
	}
	for i := 1; i < len(items); i++ {
		prev, cur := items[i-1], items[i]
		if cur.ScheduledStart.Before(prev.End()) {
			return fmt.Errorf("items %s and %s overlap", prev.ID, cur.ID)
		}
		if gap := cur.ScheduledStart.Sub(prev.End()); gap > q.cfg.GapTolerance {
			q.logger.Debug("schedule gap",
				slog.String("channel_id", channelID.String()),
				slog.Duration("gap", gap),
				slog.Time("at", prev.End()),
			)
		}
	}
	return nil
}
