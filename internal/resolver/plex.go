package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/version"
)

// plexURLTTL is how long Plex part URLs are trusted before re-resolution.
// Plex does not advertise an expiry; tokens and part keys rotate on server
// restarts and library refreshes.
const plexURLTTL = 2 * time.Hour

// PlexResolver resolves library items via the Plex metadata API.
type PlexResolver struct {
	serverURL string
	token     string
	client    *http.Client
	now       func() time.Time
}

// NewPlexResolver creates a Plex resolver against the configured server.
func NewPlexResolver(creds config.CredentialsConfig, timeout time.Duration) *PlexResolver {
	return &PlexResolver{
		serverURL: strings.TrimRight(creds.ServerURL, "/"),
		token:     creds.Token,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

// Kind implements Resolver.
func (r *PlexResolver) Kind() models.SourceKind { return models.SourcePlex }

// plexMetadataResponse mirrors the subset of the Plex metadata payload
// needed to locate the media part.
type plexMetadataResponse struct {
	MediaContainer struct {
		Metadata []struct {
			Duration int64 `json:"duration"`
			Media    []struct {
				Part []struct {
					Key string `json:"key"`
				} `json:"Part"`
			} `json:"Media"`
		} `json:"Metadata"`
	} `json:"MediaContainer"`
}

// Resolve implements Resolver.
func (r *PlexResolver) Resolve(ctx context.Context, ref *models.MediaRef) (*ResolvedURL, error) {
	if r.serverURL == "" || r.token == "" {
		return nil, newError("plex", KindInvalidRef, fmt.Errorf("plex server_url and token are not configured"))
	}
	ratingKey := ref.RatingKey
	if ratingKey == "" {
		ratingKey = ref.Locator
	}
	if ratingKey == "" {
		return nil, newError("plex", KindInvalidRef, fmt.Errorf("missing rating key"))
	}

	metaURL := fmt.Sprintf("%s/library/metadata/%s", r.serverURL, url.PathEscape(ratingKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, newError("plex", KindInternal, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", r.token)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError("plex", KindTimeout, err)
		}
		return nil, newError("plex", KindNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError("plex", classifyStatus(resp.StatusCode),
			fmt.Errorf("metadata request returned %d", resp.StatusCode))
	}

	var meta plexMetadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, newError("plex", KindUpstream, fmt.Errorf("decoding metadata: %w", err))
	}
	if len(meta.MediaContainer.Metadata) == 0 ||
		len(meta.MediaContainer.Metadata[0].Media) == 0 ||
		len(meta.MediaContainer.Metadata[0].Media[0].Part) == 0 {
		return nil, newError("plex", KindNotFound,
			fmt.Errorf("item %s has no playable media part", ratingKey))
	}

	partKey := meta.MediaContainer.Metadata[0].Media[0].Part[0].Key
	expires := r.now().Add(plexURLTTL)

	headers := http.Header{}
	headers.Set("X-Plex-Token", r.token)

	return &ResolvedURL{
		URL:       fmt.Sprintf("%s%s?X-Plex-Token=%s", r.serverURL, partKey, url.QueryEscape(r.token)),
		Source:    models.SourcePlex,
		ExpiresAt: &expires,
		Headers:   headers,
		Metadata: map[string]string{
			"rating_key": ratingKey,
			"part_key":   partKey,
		},
	}, nil
}
