package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/fieldcast/fieldcast/internal/models"
)

const archiveDownloadBase = "https://archive.org/download"

// ArchiveResolver builds Archive.org download URLs from an item identifier
// and filename. No API call is needed and the URLs never expire.
type ArchiveResolver struct {
	logger *slog.Logger
}

// NewArchiveResolver creates an Archive.org resolver.
func NewArchiveResolver() *ArchiveResolver {
	return &ArchiveResolver{logger: slog.Default()}
}

// Kind implements Resolver.
func (r *ArchiveResolver) Kind() models.SourceKind { return models.SourceArchive }

// Resolve implements Resolver.
func (r *ArchiveResolver) Resolve(_ context.Context, ref *models.MediaRef) (*ResolvedURL, error) {
	identifier := ref.ArchiveIdentifier
	filename := ref.ArchiveFilename

	// References may carry an archive.org URL in the locator instead of
	// split identifier/filename fields.
	if identifier == "" {
		var err error
		identifier, filename, err = splitArchiveLocator(ref.Locator)
		if err != nil {
			return nil, newError("archive_org", KindInvalidRef, err)
		}
	}
	if identifier == "" {
		return nil, newError("archive_org", KindInvalidRef, fmt.Errorf("missing archive identifier"))
	}
	if filename == "" {
		// Many single-file items mirror the identifier as the filename,
		// but this is a guess that can 404.
		filename = identifier + ".mp4"
		r.logger.Warn("archive item has no filename, guessing",
			slog.String("identifier", identifier),
			slog.String("filename", filename))
	}

	headers := http.Header{}
	headers.Set("User-Agent", desktopUserAgent)
	headers.Set("Referer", "https://archive.org/")

	return &ResolvedURL{
		URL:     fmt.Sprintf("%s/%s/%s", archiveDownloadBase, identifier, encodeArchivePath(filename)),
		Source:  models.SourceArchive,
		Headers: headers,
		Metadata: map[string]string{
			"identifier": identifier,
			"filename":   filename,
		},
	}, nil
}

// splitArchiveLocator extracts identifier and filename from the
// archive.org URL forms: /download/{id}/{file}, /details/{id}, and
// /embed/{id}.
func splitArchiveLocator(locator string) (identifier, filename string, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", fmt.Errorf("parsing archive locator: %w", err)
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 3)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("locator %q is not an archive.org item URL", locator)
	}
	switch parts[0] {
	case "download", "details", "embed":
	default:
		return "", "", fmt.Errorf("locator %q is not an archive.org item URL", locator)
	}
	identifier = parts[1]
	if len(parts) == 3 {
		filename = parts[2]
	}
	return identifier, filename, nil
}

// encodeArchivePath percent-encodes a filename path for the download URL.
// Filenames that already contain percent-encoding are passed through
// untouched; re-encoding them would double-encode and 404.
func encodeArchivePath(filename string) string {
	if strings.Contains(filename, "%") {
		return filename
	}
	segments := strings.Split(filename, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
