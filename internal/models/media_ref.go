package models

import "time"

// SourceKind identifies which resolver handles a media reference.
type SourceKind string

// Supported media source kinds.
const (
	SourceLocal    SourceKind = "local"
	SourcePlex     SourceKind = "plex"
	SourceJellyfin SourceKind = "jellyfin"
	SourceEmby     SourceKind = "emby"
	SourceYouTube  SourceKind = "youtube"
	SourceArchive  SourceKind = "archive_org"
)

// Valid reports whether the kind is one of the supported source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceLocal, SourcePlex, SourceJellyfin, SourceEmby, SourceYouTube, SourceArchive:
		return true
	}
	return false
}

// MediaRef is a stable reference to a piece of media on some source.
// The Locator is opaque outside the owning resolver: a file path, a URL,
// a video id, or a server item key depending on Kind.
type MediaRef struct {
	BaseModel

	Kind    SourceKind `gorm:"size:16;index" json:"kind"`
	Locator string     `gorm:"size:2048" json:"locator"`
	Title   string     `gorm:"size:512" json:"title"`

	// Source-specific addressing. Only the fields relevant to Kind are set.
	RatingKey         string `gorm:"size:64" json:"rating_key,omitempty"`
	ItemID            string `gorm:"size:64" json:"item_id,omitempty"`
	VideoID           string `gorm:"size:16" json:"video_id,omitempty"`
	ArchiveIdentifier string `gorm:"size:256" json:"archive_identifier,omitempty"`
	ArchiveFilename   string `gorm:"size:512" json:"archive_filename,omitempty"`

	// Duration as probed or reported by the source; zero when unknown.
	Duration time.Duration `json:"duration"`
}

// StableKey returns the source-scoped identifier used as the resolution
// cache key. It stays constant across resolutions even when resolved URLs
// rotate.
func (m *MediaRef) StableKey() string {
	switch m.Kind {
	case SourceYouTube:
		if m.VideoID != "" {
			return m.VideoID
		}
	case SourcePlex:
		if m.RatingKey != "" {
			return m.RatingKey
		}
	case SourceJellyfin, SourceEmby:
		if m.ItemID != "" {
			return m.ItemID
		}
	case SourceArchive:
		if m.ArchiveIdentifier != "" {
			return m.ArchiveIdentifier + "/" + m.ArchiveFilename
		}
	}
	return m.Locator
}

// TableName overrides the GORM table name.
func (MediaRef) TableName() string { return "media_refs" }
