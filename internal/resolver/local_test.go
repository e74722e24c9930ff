package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcast/fieldcast/internal/models"
)

func TestLocalResolve(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "movie.mkv")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	r := NewLocalResolver([]string{root})
	ctx := context.Background()

	resolved, err := r.Resolve(ctx, &models.MediaRef{Kind: models.SourceLocal, Locator: file})
	require.NoError(t, err)
	assert.Equal(t, file, resolved.URL)
	assert.Nil(t, resolved.ExpiresAt)

	// file:// prefix is accepted.
	resolved, err = r.Resolve(ctx, &models.MediaRef{Kind: models.SourceLocal, Locator: "file://" + file})
	require.NoError(t, err)
	assert.Equal(t, file, resolved.URL)
}

func TestLocalResolveRejections(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	sibling := root + "-evil"
	require.NoError(t, os.MkdirAll(sibling, 0o755))
	evilFile := filepath.Join(sibling, "movie.mkv")
	require.NoError(t, os.WriteFile(evilFile, []byte("x"), 0o644))
	outsideFile := filepath.Join(outside, "movie.mkv")
	require.NoError(t, os.WriteFile(outsideFile, []byte("x"), 0o644))

	r := NewLocalResolver([]string{root})
	ctx := context.Background()

	tests := []struct {
		name    string
		locator string
		kind    ErrorKind
	}{
		{"relative path", "media/movie.mkv", KindInvalidRef},
		{"outside allowed roots", outsideFile, KindAccessDenied},
		{"sibling prefix does not match root", evilFile, KindAccessDenied},
		{"traversal out of root", filepath.Join(root, "..", "movie.mkv"), KindAccessDenied},
		{"missing file", filepath.Join(root, "gone.mkv"), KindNotFound},
		{"directory is not a file", root, KindInvalidRef},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, &models.MediaRef{Kind: models.SourceLocal, Locator: tt.locator})
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}
