package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
)

// JellyfinResolver builds direct Download URLs for Jellyfin and Emby
// servers. Both speak the same Items API; the kind only differs in how the
// token header is spelled. Download URLs are stable, so no expiry is set.
type JellyfinResolver struct {
	kind      models.SourceKind
	serverURL string
	apiKey    string
}

// NewJellyfinResolver creates a resolver for a Jellyfin server.
func NewJellyfinResolver(creds config.CredentialsConfig) *JellyfinResolver {
	return &JellyfinResolver{
		kind:      models.SourceJellyfin,
		serverURL: strings.TrimRight(creds.ServerURL, "/"),
		apiKey:    creds.Token,
	}
}

// NewEmbyResolver creates a resolver for an Emby server.
func NewEmbyResolver(creds config.CredentialsConfig) *JellyfinResolver {
	return &JellyfinResolver{
		kind:      models.SourceEmby,
		serverURL: strings.TrimRight(creds.ServerURL, "/"),
		apiKey:    creds.Token,
	}
}

// Kind implements Resolver.
func (r *JellyfinResolver) Kind() models.SourceKind { return r.kind }

// Resolve implements Resolver.
func (r *JellyfinResolver) Resolve(_ context.Context, ref *models.MediaRef) (*ResolvedURL, error) {
	source := string(r.kind)
	if r.serverURL == "" || r.apiKey == "" {
		return nil, newError(source, KindInvalidRef,
			fmt.Errorf("%s server_url and token are not configured", source))
	}
	itemID := ref.ItemID
	if itemID == "" {
		itemID = ref.Locator
	}
	if itemID == "" {
		return nil, newError(source, KindInvalidRef, fmt.Errorf("missing item id"))
	}

	headers := http.Header{}
	if r.kind == models.SourceEmby {
		headers.Set("X-Emby-Token", r.apiKey)
	} else {
		headers.Set("Authorization", fmt.Sprintf(`MediaBrowser Token="%s"`, r.apiKey))
	}

	return &ResolvedURL{
		URL: fmt.Sprintf("%s/Items/%s/Download?api_key=%s",
			r.serverURL, url.PathEscape(itemID), url.QueryEscape(r.apiKey)),
		Source:  r.kind,
		Headers: headers,
		Metadata: map[string]string{
			"item_id": itemID,
		},
	}, nil
}
