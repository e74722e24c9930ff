package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
)

func newTestPlexResolver(serverURL string) *PlexResolver {
	r := NewPlexResolver(config.CredentialsConfig{ServerURL: serverURL, Token: "tok123"}, 5*time.Second)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestPlexResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/library/metadata/12345", req.URL.Path)
		assert.Equal(t, "tok123", req.Header.Get("X-Plex-Token"))
		assert.Equal(t, "application/json", req.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"MediaContainer":{"Metadata":[{"duration":5400000,"Media":[{"Part":[{"key":"/library/parts/99/file.mkv"}]}]}]}}`))
	}))
	defer srv.Close()

	r := newTestPlexResolver(srv.URL)
	resolved, err := r.Resolve(context.Background(), &models.MediaRef{Kind: models.SourcePlex, RatingKey: "12345"})
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/library/parts/99/file.mkv?X-Plex-Token=tok123", resolved.URL)
	assert.Equal(t, "tok123", resolved.Headers.Get("X-Plex-Token"))
	require.NotNil(t, resolved.ExpiresAt)
	assert.Equal(t, time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), *resolved.ExpiresAt)
}

func TestPlexResolveStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{http.StatusNotFound, KindNotFound, false},
		{http.StatusUnauthorized, KindAccessDenied, true},
		{http.StatusForbidden, KindAccessDenied, true},
		{http.StatusTooManyRequests, KindRateLimited, true},
		{http.StatusBadGateway, KindUpstream, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			r := newTestPlexResolver(srv.URL)
			_, err := r.Resolve(context.Background(), &models.MediaRef{Kind: models.SourcePlex, RatingKey: "1"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestPlexResolveNoParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"MediaContainer":{"Metadata":[]}}`))
	}))
	defer srv.Close()

	r := newTestPlexResolver(srv.URL)
	_, err := r.Resolve(context.Background(), &models.MediaRef{Kind: models.SourcePlex, RatingKey: "1"})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestPlexResolveUnconfigured(t *testing.T) {
	r := NewPlexResolver(config.CredentialsConfig{}, time.Second)
	_, err := r.Resolve(context.Background(), &models.MediaRef{Kind: models.SourcePlex, RatingKey: "1"})
	require.Error(t, err)
	assert.Equal(t, KindInvalidRef, KindOf(err))
}

func TestJellyfinResolveDownloadURL(t *testing.T) {
	r := NewJellyfinResolver(config.CredentialsConfig{ServerURL: "http://jelly.local:8096/", Token: "key"})
	resolved, err := r.Resolve(context.Background(), &models.MediaRef{Kind: models.SourceJellyfin, ItemID: "abc123"})
	require.NoError(t, err)

	assert.Equal(t, "http://jelly.local:8096/Items/abc123/Download?api_key=key", resolved.URL)
	assert.Contains(t, resolved.Headers.Get("Authorization"), `Token="key"`)
	assert.Nil(t, resolved.ExpiresAt)
}

func TestEmbyResolveHeaderStyle(t *testing.T) {
	r := NewEmbyResolver(config.CredentialsConfig{ServerURL: "http://emby.local:8096", Token: "key"})
	resolved, err := r.Resolve(context.Background(), &models.MediaRef{Kind: models.SourceEmby, ItemID: "abc123"})
	require.NoError(t, err)

	assert.Equal(t, models.SourceEmby, resolved.Source)
	assert.Equal(t, "key", resolved.Headers.Get("X-Emby-Token"))
}
