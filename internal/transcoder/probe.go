package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fieldcast/fieldcast/internal/resolver"
)

// probeResult mirrors the ffprobe JSON output shape.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	PixFmt     string `json:"pix_fmt"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

// Prober inspects media with ffprobe.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	run         runCommand
}

// runCommand executes a subprocess and returns stdout/stderr. Replaceable
// in tests.
type runCommand func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execProbe(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// NewProber creates a Prober using the given ffprobe binary.
func NewProber(ffprobePath string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prober{ffprobePath: ffprobePath, timeout: timeout, run: execProbe}
}

// Probe inspects the resolved URL and returns codec information.
// Upstream auth headers from the resolution are forwarded to ffprobe.
func (p *Prober) Probe(ctx context.Context, resolved *resolver.ResolvedURL) (*CodecInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams"}
	if headers := headerBlock(resolved); headers != "" {
		args = append(args, "-headers", headers)
	}
	args = append(args, resolved.URL)

	stdout, stderr, err := p.run(ctx, p.ffprobePath, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("ffprobe timed out after %s", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, tail(stderr, 500))
	}

	var result probeResult
	if err := json.Unmarshal(stdout, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return result.toCodecInfo(), nil
}

func (r *probeResult) toCodecInfo() *CodecInfo {
	info := &CodecInfo{Container: r.Format.FormatName}

	if secs, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	if br, err := strconv.ParseInt(r.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	for _, s := range r.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = s.CodecName
			info.PixelFmt = s.PixFmt
			info.Width = s.Width
			info.Height = s.Height
			info.FrameRate = parseFrameRate(s.RFrameRate)
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	return info
}

// parseFrameRate evaluates ffprobe's rational "30000/1001" notation.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// headerBlock renders resolution headers in ffmpeg's CRLF format. Keys
// are sorted so identical resolutions produce an identical argv.
func headerBlock(resolved *resolver.ResolvedURL) string {
	if len(resolved.Headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(resolved.Headers))
	for key := range resolved.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		for _, v := range resolved.Headers[key] {
			b.WriteString(key)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	return b.String()
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
