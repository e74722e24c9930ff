package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fieldcast/fieldcast/internal/models"
)

// playoutItemRepo implements PlayoutItemRepository using GORM.
type playoutItemRepo struct {
	db *gorm.DB
}

// NewPlayoutItemRepository creates a new PlayoutItemRepository.
func NewPlayoutItemRepository(db *gorm.DB) PlayoutItemRepository {
	return &playoutItemRepo{db: db}
}

func (r *playoutItemRepo) Create(ctx context.Context, item *models.PlayoutItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		overlap, err := r.hasOverlap(tx, item)
		if err != nil {
			return err
		}
		if overlap {
			return models.ErrScheduleOverlap
		}
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("creating playout item: %w", err)
		}
		return nil
	})
}

func (r *playoutItemRepo) CreateBatch(ctx context.Context, items []*models.PlayoutItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			if err := item.Validate(); err != nil {
				return err
			}
			overlap, err := r.hasOverlap(tx, item)
			if err != nil {
				return err
			}
			if overlap {
				return models.ErrScheduleOverlap
			}
			if err := tx.Create(item).Error; err != nil {
				return fmt.Errorf("creating playout item: %w", err)
			}
		}
		return nil
	})
}

// hasOverlap reports whether item's span intersects an existing item on the
// same channel. Consumed items no longer block the slot. The end time is
// derived from the stored duration, so candidates are narrowed by start
// time in SQL and checked precisely in Go.
func (r *playoutItemRepo) hasOverlap(tx *gorm.DB, item *models.PlayoutItem) (bool, error) {
	var existing []*models.PlayoutItem
	err := tx.Model(&models.PlayoutItem{}).
		Where("channel_id = ? AND consumed = ?", item.ChannelID, false).
		Where("scheduled_start < ?", item.End()).
		Find(&existing).Error
	if err != nil {
		return false, fmt.Errorf("checking schedule overlap: %w", err)
	}
	for _, other := range existing {
		if other.ID == item.ID {
			continue
		}
		if other.End().After(item.ScheduledStart) {
			return true, nil
		}
	}
	return false, nil
}

func (r *playoutItemRepo) GetByID(ctx context.Context, id models.ULID) (*models.PlayoutItem, error) {
	var item models.PlayoutItem
	err := r.db.WithContext(ctx).Preload("MediaRef").Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting playout item: %w", err)
	}
	return &item, nil
}

func (r *playoutItemRepo) CurrentAt(ctx context.Context, channelID models.ULID, t time.Time) (*models.PlayoutItem, error) {
	items, err := r.ListWindow(ctx, channelID, t, t.Add(time.Nanosecond))
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if !item.Consumed && item.Covers(t) {
			return item, nil
		}
	}
	return nil, nil
}

func (r *playoutItemRepo) NextAfter(ctx context.Context, channelID models.ULID, t time.Time) (*models.PlayoutItem, error) {
	var item models.PlayoutItem
	err := r.db.WithContext(ctx).
		Preload("MediaRef").
		Where("channel_id = ? AND consumed = ? AND scheduled_start >= ?", channelID, false, t).
		Order("scheduled_start ASC").
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting next playout item: %w", err)
	}
	return &item, nil
}

func (r *playoutItemRepo) ListWindow(ctx context.Context, channelID models.ULID, from, to time.Time) ([]*models.PlayoutItem, error) {
	// Durations are stored as nanoseconds; the window predicate needs the
	// computed end, so fetch by a widened start range and filter in Go.
	var items []*models.PlayoutItem
	err := r.db.WithContext(ctx).
		Preload("MediaRef").
		Where("channel_id = ? AND scheduled_start < ?", channelID, to).
		Order("scheduled_start ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("listing playout window: %w", err)
	}
	out := items[:0]
	for _, item := range items {
		if item.End().After(from) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *playoutItemRepo) MarkConsumed(ctx context.Context, id models.ULID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.PlayoutItem{}).
		Where("id = ?", id).
		Updates(map[string]any{"consumed": true, "consumed_at": at})
	if res.Error != nil {
		return fmt.Errorf("marking playout item consumed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *playoutItemRepo) DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("consumed = ? AND consumed_at < ?", true, cutoff).
		Delete(&models.PlayoutItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning consumed playout items: %w", res.Error)
	}
	return res.RowsAffected, nil
}

var _ PlayoutItemRepository = (*playoutItemRepo)(nil)
