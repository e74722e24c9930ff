package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fieldcast/fieldcast/internal/models"
)

// channelStatsRepo implements ChannelStatsRepository using GORM.
type channelStatsRepo struct {
	db *gorm.DB
}

// NewChannelStatsRepository creates a new ChannelStatsRepository.
func NewChannelStatsRepository(db *gorm.DB) ChannelStatsRepository {
	return &channelStatsRepo{db: db}
}

func (r *channelStatsRepo) GetByChannel(ctx context.Context, channelID models.ULID) (*models.ChannelStats, error) {
	var stats models.ChannelStats
	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&stats).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel stats: %w", err)
	}
	return &stats, nil
}

func (r *channelStatsRepo) Add(ctx context.Context, channelID models.ULID, delta models.ChannelStats) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stats models.ChannelStats
		err := tx.Where("channel_id = ?", channelID).First(&stats).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stats = models.ChannelStats{ChannelID: channelID}
		} else if err != nil {
			return fmt.Errorf("loading channel stats: %w", err)
		}

		stats.BytesOut += delta.BytesOut
		stats.ItemsPlayed += delta.ItemsPlayed
		stats.Restarts += delta.Restarts
		stats.WatchdogKills += delta.WatchdogKills
		stats.ResolveErrors += delta.ResolveErrors
		if delta.LastPlayedAt != nil {
			stats.LastPlayedAt = delta.LastPlayedAt
		}

		if err := tx.Save(&stats).Error; err != nil {
			return fmt.Errorf("saving channel stats: %w", err)
		}
		return nil
	})
}

var _ ChannelStatsRepository = (*channelStatsRepo)(nil)
