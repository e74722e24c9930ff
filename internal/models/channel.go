package models

// Channel is a continuously-playing virtual TV channel.
type Channel struct {
	BaseModel

	Number int    `gorm:"uniqueIndex" json:"number"`
	Name   string `gorm:"size:256" json:"name"`

	// AlwaysOn keeps the playout pipeline warm even with zero viewers.
	AlwaysOn bool `json:"always_on"`

	// SlateImage is an optional image shown by the offline/error screen.
	SlateImage string `gorm:"size:1024" json:"slate_image,omitempty"`

	// Filler holds the cyclic filler playlist used when the schedule has
	// gaps, ordered by Position.
	Filler []FillerItem `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"filler,omitempty"`
}

// Validate checks channel invariants before persistence.
func (c *Channel) Validate() error {
	if c.Number <= 0 {
		return NewValidationError("number", "must be positive")
	}
	if c.Name == "" {
		return NewValidationError("name", "must not be empty")
	}
	return nil
}

// TableName overrides the GORM table name.
func (Channel) TableName() string { return "channels" }

// FillerItem is one entry of a channel's cyclic filler playlist.
type FillerItem struct {
	BaseModel

	ChannelID  ULID     `gorm:"index:idx_filler_channel_pos,unique" json:"channel_id"`
	Position   int      `gorm:"index:idx_filler_channel_pos,unique" json:"position"`
	MediaRefID ULID     `json:"media_ref_id"`
	MediaRef   MediaRef `gorm:"foreignKey:MediaRefID" json:"media_ref"`
}

// TableName overrides the GORM table name.
func (FillerItem) TableName() string { return "filler_items" }
