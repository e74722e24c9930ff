package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
)

// youtubeURLTTL is the trusted lifetime for extracted googlevideo URLs.
// The URLs themselves embed an expiry of roughly six hours.
const youtubeURLTTL = 6 * time.Hour

// videoIDPattern matches a bare 11-character YouTube video id.
var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// formatChain is tried in order until yt-dlp yields a URL. Progressive
// MP4/H.264 first so the transcoder can stream-copy; anything is better
// than nothing as the last resort.
var formatChain = []string{
	"best[ext=mp4][height<=1080][vcodec^=avc1]",
	"best[ext=mp4][height<=1080]",
	"best[height<=1080]",
	"best",
}

// runCommand executes a subprocess and returns its stdout and stderr.
// Replaceable in tests.
type runCommand func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

func execCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.String(), errBuf.String(), err
}

// YouTubeResolver extracts playable googlevideo URLs through yt-dlp.
type YouTubeResolver struct {
	ytdlpPath   string
	cookiesFile string
	run         runCommand
	now         func() time.Time
}

// NewYouTubeResolver creates a yt-dlp backed resolver.
func NewYouTubeResolver(cfg config.FFmpegConfig, resolverCfg config.ResolverConfig) *YouTubeResolver {
	return &YouTubeResolver{
		ytdlpPath:   cfg.YtdlpPath,
		cookiesFile: resolverCfg.YoutubeCookies,
		run:         execCommand,
		now:         time.Now,
	}
}

// Kind implements Resolver.
func (r *YouTubeResolver) Kind() models.SourceKind { return models.SourceYouTube }

// Resolve implements Resolver.
func (r *YouTubeResolver) Resolve(ctx context.Context, ref *models.MediaRef) (*ResolvedURL, error) {
	videoID := ref.VideoID
	if videoID == "" {
		var err error
		videoID, err = ExtractVideoID(ref.Locator)
		if err != nil {
			return nil, newError("youtube", KindInvalidRef, err)
		}
	}
	if !videoIDPattern.MatchString(videoID) {
		return nil, newError("youtube", KindInvalidRef, fmt.Errorf("invalid video id %q", videoID))
	}

	watchURL := "https://www.youtube.com/watch?v=" + videoID

	var lastErr error
	for _, format := range formatChain {
		args := []string{"--no-playlist", "--no-warnings", "--quiet", "-f", format, "--get-url"}
		if r.cookiesFile != "" {
			args = append(args, "--cookies", r.cookiesFile)
		}
		args = append(args, watchURL)

		stdout, stderr, err := r.run(ctx, r.ytdlpPath, args...)
		if err != nil {
			lastErr = classifyYtdlpFailure(videoID, stderr, err)
			// Only format-availability failures justify trying the next
			// selector; hard failures abort the chain.
			if KindOf(lastErr) == KindNotFound && strings.Contains(stderr, "Requested format is not available") {
				continue
			}
			return nil, lastErr
		}

		urlLine := firstLine(stdout)
		if urlLine == "" {
			lastErr = newError("youtube", KindUpstream, fmt.Errorf("yt-dlp produced no URL for %s", videoID))
			continue
		}

		// googlevideo edges check for browser-shaped requests.
		headers := http.Header{}
		headers.Set("User-Agent", desktopUserAgent)
		headers.Set("Referer", "https://www.youtube.com/")
		headers.Set("Origin", "https://www.youtube.com")

		expires := r.now().Add(youtubeURLTTL)
		return &ResolvedURL{
			URL:       urlLine,
			Source:    models.SourceYouTube,
			ExpiresAt: &expires,
			Headers:   headers,
			Metadata: map[string]string{
				"video_id": videoID,
				"format":   format,
			},
		}, nil
	}

	if lastErr == nil {
		lastErr = newError("youtube", KindUpstream, fmt.Errorf("no format produced a URL for %s", videoID))
	}
	return nil, lastErr
}

// ExtractVideoID pulls the 11-character video id out of the supported
// YouTube URL shapes, or validates a bare id.
func ExtractVideoID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if videoIDPattern.MatchString(s) {
		return s, nil
	}

	for _, re := range []*regexp.Regexp{
		regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`/shorts/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`/embed/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`/live/([A-Za-z0-9_-]{11})`),
	} {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("no video id found in %q", s)
}

// classifyYtdlpFailure maps yt-dlp stderr output onto the error taxonomy.
func classifyYtdlpFailure(videoID, stderr string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError("youtube", KindTimeout, err)
	}

	lower := strings.ToLower(stderr)
	wrapped := fmt.Errorf("yt-dlp failed for %s: %w: %s", videoID, err, firstLine(stderr))
	switch {
	case strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "requested format is not available"),
		strings.Contains(lower, "this video has been removed"):
		return newError("youtube", KindNotFound, wrapped)
	case strings.Contains(lower, "private video"),
		strings.Contains(lower, "age-restricted"),
		strings.Contains(lower, "not available in your country"):
		// Permanent permission walls; retrying cannot help.
		return newError("youtube", KindPermission, wrapped)
	case strings.Contains(lower, "sign in to confirm"):
		return newError("youtube", KindAccessDenied, wrapped)
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate-limited"),
		strings.Contains(lower, "too many requests"):
		return newError("youtube", KindRateLimited, wrapped)
	case strings.Contains(lower, "unable to download"), strings.Contains(lower, "connection"),
		strings.Contains(lower, "timed out"):
		return newError("youtube", KindNetwork, wrapped)
	default:
		return newError("youtube", KindUpstream, wrapped)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
