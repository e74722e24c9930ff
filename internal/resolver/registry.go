// Package resolver turns stable media references into playable URLs.
//
// Each source kind (local files, Plex, Jellyfin/Emby, YouTube, Archive.org)
// has its own resolver behind a common interface. The registry dispatches
// on the reference's kind, caches resolutions keyed by the stable source
// identifier, and refreshes entries whose URLs approach expiry.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/observability"
)

// Resolver resolves references of one source kind.
type Resolver interface {
	Kind() models.SourceKind
	Resolve(ctx context.Context, ref *models.MediaRef) (*ResolvedURL, error)
}

// Registry dispatches resolution requests and caches the results.
type Registry struct {
	resolvers map[models.SourceKind]Resolver
	cache     *cache
	cfg       config.ResolverConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry creates a registry with the given resolvers registered.
func NewRegistry(cfg config.ResolverConfig, logger *slog.Logger, resolvers ...Resolver) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		resolvers: make(map[models.SourceKind]Resolver),
		cache:     newCache(nil),
		cfg:       cfg,
		logger:    observability.WithComponent(logger, "resolver"),
		now:       time.Now,
	}
	for _, res := range resolvers {
		r.resolvers[res.Kind()] = res
	}
	return r
}

// Register adds or replaces the resolver for its kind.
func (r *Registry) Register(res Resolver) {
	r.resolvers[res.Kind()] = res
}

// Resolve returns a playable URL for ref. Cached resolutions are reused
// until they expire; force bypasses the cache and replaces the entry.
func (r *Registry) Resolve(ctx context.Context, ref *models.MediaRef, force bool) (*ResolvedURL, error) {
	kind := r.detectKind(ref)
	key := cacheKey{kind: kind, key: ref.StableKey()}

	if !force {
		if entry := r.cache.get(key); entry != nil {
			return entry.Resolved, nil
		}
	}

	res, ok := r.resolvers[kind]
	if !ok {
		return nil, newError(string(kind), KindInvalidRef,
			fmt.Errorf("no resolver registered for source kind %q", kind))
	}

	if r.cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ResolveTimeout)
		defer cancel()
	}

	start := r.now()
	resolved, err := res.Resolve(ctx, ref)
	if err != nil {
		r.logger.Warn("resolution failed",
			slog.String("kind", string(kind)),
			slog.String("key", key.key),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if resolved.ExpiresAt != nil && !resolved.ExpiresAt.After(r.now()) {
		return nil, newError(string(kind), KindInternal,
			fmt.Errorf("resolver emitted already-expired URL"))
	}

	r.cache.put(key, ref, resolved)
	r.logger.Debug("resolved media reference",
		slog.String("kind", string(kind)),
		slog.String("key", key.key),
		slog.Duration("took", r.now().Sub(start)),
	)
	return resolved, nil
}

// RefreshIfExpiring re-resolves ref when its cached URL expires within
// threshold. Returns the freshest available resolution.
func (r *Registry) RefreshIfExpiring(ctx context.Context, ref *models.MediaRef, threshold time.Duration) (*ResolvedURL, error) {
	kind := r.detectKind(ref)
	key := cacheKey{kind: kind, key: ref.StableKey()}

	if entry := r.cache.get(key); entry != nil && !entry.Resolved.ExpiringSoon(r.now(), threshold) {
		return entry.Resolved, nil
	}
	return r.Resolve(ctx, ref, true)
}

// Invalidate drops the cached resolution for ref.
func (r *Registry) Invalidate(ref *models.MediaRef) {
	r.cache.invalidate(cacheKey{kind: r.detectKind(ref), key: ref.StableKey()})
}

// Clear drops all cached resolutions.
func (r *Registry) Clear() {
	r.cache.clear()
}

// CacheSize returns the number of live cache entries.
func (r *Registry) CacheSize() int {
	return r.cache.len()
}

// ExpiringEntries returns the cached resolutions that expire within
// threshold. Entries without expiry are never included.
func (r *Registry) ExpiringEntries(threshold time.Duration) []*CachedURL {
	return r.cache.expiringEntries(threshold)
}

// detectKind returns the resolver kind for ref. An explicit valid kind
// wins; otherwise source-specific metadata fields decide, then locator
// patterns, finally falling back to a local path.
func (r *Registry) detectKind(ref *models.MediaRef) models.SourceKind {
	if ref.Kind.Valid() {
		return ref.Kind
	}

	switch {
	case ref.RatingKey != "":
		return models.SourcePlex
	case ref.ItemID != "":
		return models.SourceJellyfin
	case ref.VideoID != "":
		return models.SourceYouTube
	case ref.ArchiveIdentifier != "":
		return models.SourceArchive
	}

	loc := ref.Locator
	switch {
	case strings.Contains(loc, "youtube.com/") || strings.Contains(loc, "youtu.be/"):
		return models.SourceYouTube
	case strings.Contains(loc, "archive.org/"):
		return models.SourceArchive
	}
	return models.SourceLocal
}
