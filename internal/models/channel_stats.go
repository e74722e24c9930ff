package models

import "time"

// ChannelStats accumulates durable per-channel playout counters.
// Updated periodically by the supervisor, not on every chunk.
type ChannelStats struct {
	BaseModel

	ChannelID ULID `gorm:"uniqueIndex" json:"channel_id"`

	BytesOut      int64 `json:"bytes_out"`
	ItemsPlayed   int64 `json:"items_played"`
	Restarts      int64 `json:"restarts"`
	WatchdogKills int64 `json:"watchdog_kills"`
	ResolveErrors int64 `json:"resolve_errors"`

	LastPlayedAt *time.Time `json:"last_played_at,omitempty"`
}

// TableName overrides the GORM table name.
func (ChannelStats) TableName() string { return "channel_stats" }
