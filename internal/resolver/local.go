package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldcast/fieldcast/internal/models"
)

// LocalResolver validates file paths against the configured allow-list.
// The emitted URL is the cleaned absolute path; local files never expire.
type LocalResolver struct {
	allowedPaths []string
}

// NewLocalResolver creates a resolver restricted to the given roots.
func NewLocalResolver(allowedPaths []string) *LocalResolver {
	cleaned := make([]string, 0, len(allowedPaths))
	for _, p := range allowedPaths {
		cleaned = append(cleaned, filepath.Clean(p))
	}
	return &LocalResolver{allowedPaths: cleaned}
}

// Kind implements Resolver.
func (r *LocalResolver) Kind() models.SourceKind { return models.SourceLocal }

// Resolve implements Resolver.
func (r *LocalResolver) Resolve(_ context.Context, ref *models.MediaRef) (*ResolvedURL, error) {
	path := strings.TrimPrefix(ref.Locator, "file://")
	if path == "" {
		return nil, newError("local", KindInvalidRef, fmt.Errorf("empty path"))
	}
	if !filepath.IsAbs(path) {
		return nil, newError("local", KindInvalidRef, fmt.Errorf("path %q is not absolute", path))
	}
	path = filepath.Clean(path)

	if !r.allowed(path) {
		return nil, newError("local", KindAccessDenied, fmt.Errorf("path %q is outside allowed roots", path))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError("local", KindNotFound, err)
		}
		return nil, newError("local", KindInternal, err)
	}
	if !info.Mode().IsRegular() {
		return nil, newError("local", KindInvalidRef, fmt.Errorf("path %q is not a regular file", path))
	}

	return &ResolvedURL{
		URL:    path,
		Source: models.SourceLocal,
	}, nil
}

// allowed reports whether path sits under one of the allowed roots.
// Cleaned-path prefix matching with a separator guard, so /media-evil
// does not match the root /media.
func (r *LocalResolver) allowed(path string) bool {
	for _, root := range r.allowedPaths {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
