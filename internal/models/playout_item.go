package models

import "time"

// PlayoutItem is one scheduled entry in a channel's playout queue.
// Items for a channel are ordered by ScheduledStart and never overlap.
type PlayoutItem struct {
	BaseModel

	ChannelID ULID `gorm:"index:idx_playout_channel_start" json:"channel_id"`

	MediaRefID ULID     `json:"media_ref_id"`
	MediaRef   MediaRef `gorm:"foreignKey:MediaRefID" json:"media_ref"`

	ScheduledStart time.Time     `gorm:"index:idx_playout_channel_start" json:"scheduled_start"`
	Duration       time.Duration `json:"duration"`

	// IsFiller marks items injected from the channel's filler playlist.
	IsFiller bool `json:"is_filler"`

	// Consumed is set once playback of this item completed or was skipped.
	// Consumed items are never scheduled again.
	Consumed   bool       `gorm:"index" json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// End returns the scheduled end time of the item.
func (p *PlayoutItem) End() time.Time {
	return p.ScheduledStart.Add(p.Duration)
}

// Covers reports whether t falls within the item's scheduled span.
// The start bound is inclusive, the end bound exclusive.
func (p *PlayoutItem) Covers(t time.Time) bool {
	return !t.Before(p.ScheduledStart) && t.Before(p.End())
}

// Offset returns how far into the item t is. Negative offsets clamp to zero.
func (p *PlayoutItem) Offset(t time.Time) time.Duration {
	if t.Before(p.ScheduledStart) {
		return 0
	}
	return t.Sub(p.ScheduledStart)
}

// Validate checks playout item invariants before persistence.
func (p *PlayoutItem) Validate() error {
	if p.ChannelID.IsZero() {
		return NewValidationError("channel_id", "must be set")
	}
	if p.MediaRefID.IsZero() {
		return NewValidationError("media_ref_id", "must be set")
	}
	if p.Duration <= 0 {
		return NewValidationError("duration", "must be positive")
	}
	return nil
}

// TableName overrides the GORM table name.
func (PlayoutItem) TableName() string { return "playout_items" }
