// Package repository provides GORM-backed data access for fieldcast models.
package repository

import (
	"context"
	"time"

	"github.com/fieldcast/fieldcast/internal/models"
)

// ChannelRepository persists channels and their filler playlists.
type ChannelRepository interface {
	Create(ctx context.Context, channel *models.Channel) error
	GetByID(ctx context.Context, id models.ULID) (*models.Channel, error)
	GetByNumber(ctx context.Context, number int) (*models.Channel, error)
	List(ctx context.Context) ([]*models.Channel, error)
	Update(ctx context.Context, channel *models.Channel) error
	Delete(ctx context.Context, id models.ULID) error
}

// PlayoutItemRepository persists per-channel playout schedules.
type PlayoutItemRepository interface {
	Create(ctx context.Context, item *models.PlayoutItem) error
	CreateBatch(ctx context.Context, items []*models.PlayoutItem) error
	GetByID(ctx context.Context, id models.ULID) (*models.PlayoutItem, error)
	// CurrentAt returns the unconsumed item whose span covers t, or nil.
	CurrentAt(ctx context.Context, channelID models.ULID, t time.Time) (*models.PlayoutItem, error)
	// NextAfter returns the earliest unconsumed item starting at or after t, or nil.
	NextAfter(ctx context.Context, channelID models.ULID, t time.Time) (*models.PlayoutItem, error)
	// ListWindow returns items overlapping [from, to) ordered by start time.
	ListWindow(ctx context.Context, channelID models.ULID, from, to time.Time) ([]*models.PlayoutItem, error)
	MarkConsumed(ctx context.Context, id models.ULID, at time.Time) error
	DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChannelStatsRepository persists durable playout counters.
type ChannelStatsRepository interface {
	GetByChannel(ctx context.Context, channelID models.ULID) (*models.ChannelStats, error)
	// Add folds the delta counters into the channel's row, creating it if
	// missing. Only non-zero fields of delta are applied.
	Add(ctx context.Context, channelID models.ULID, delta models.ChannelStats) error
}
