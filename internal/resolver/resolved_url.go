package resolver

import (
	"net/http"
	"time"

	"github.com/fieldcast/fieldcast/internal/models"
)

// DefaultExpiryThreshold is how close to expiry a resolved URL may get
// before it is refreshed proactively.
const DefaultExpiryThreshold = 60 * time.Minute

// desktopUserAgent accompanies CDN media requests. YouTube and
// Archive.org edges reject or throttle obviously non-browser agents.
const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ResolvedURL is a playable URL produced by a resolver. Instances are
// immutable once emitted; refreshing replaces the whole value.
type ResolvedURL struct {
	URL    string
	Source models.SourceKind

	// ExpiresAt is nil for URLs that never expire. When set it is strictly
	// in the future at emission time.
	ExpiresAt *time.Time

	// Headers and Cookies must accompany the media request upstream.
	Headers http.Header
	Cookies []*http.Cookie

	// Metadata carries source-specific extras (format id, file size).
	Metadata map[string]string
}

// Expired reports whether the URL's validity window has passed.
func (r *ResolvedURL) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// ExpiringSoon reports whether the URL expires within threshold of now.
// URLs without expiry never report true.
func (r *ResolvedURL) ExpiringSoon(now time.Time, threshold time.Duration) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return now.Add(threshold).After(*r.ExpiresAt)
}
