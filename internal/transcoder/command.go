package transcoder

import (
	"fmt"
	"strings"
	"time"

	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/resolver"
)

// seekSafetyMargin keeps seeks clear of the final moments of a file where
// ffmpeg tends to emit nothing and exit.
const seekSafetyMargin = 10 * time.Second

// Options tunes command construction.
type Options struct {
	// HWAccel selects a hardware H.264 encoder family: "videotoolbox",
	// "cuda", "qsv", "vaapi". Empty means software libx264.
	HWAccel string

	// Seek is the input offset, clamped against the probed duration.
	Seek time.Duration

	// Realtime paces reading of pre-recorded inputs at native speed.
	Realtime bool

	// TargetBitrate caps the mpegts mux rate in bits per second.
	TargetBitrate int64
}

// hwEncoders maps accelerator families to their H.264 encoder names.
var hwEncoders = map[string]string{
	"videotoolbox": "h264_videotoolbox",
	"cuda":         "h264_nvenc",
	"qsv":          "h264_qsv",
	"vaapi":        "h264_vaapi",
}

// sourceTimeout is the HTTP read timeout per source. YouTube CDN edges
// throttle to just above realtime, so their stalls show up faster.
func sourceTimeout(kind models.SourceKind) time.Duration {
	if kind == models.SourceYouTube {
		return 45 * time.Second
	}
	return 60 * time.Second
}

// BuildCommand produces the full ffmpeg argument list for streaming the
// resolved media as MPEG-TS on stdout. Pure: identical inputs yield an
// identical argv.
func BuildCommand(resolved *resolver.ResolvedURL, info *CodecInfo, opts Options) []string {
	copyVideo := info.CanCopyVideo()
	copyAudio := info.CanCopyAudio()
	hwEncoder := ""
	if !copyVideo && !info.IsMPEG4() {
		hwEncoder = hwEncoders[opts.HWAccel]
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	if hwEncoder != "" {
		// Decode on the accelerator that will encode.
		args = append(args, "-hwaccel", opts.HWAccel)
	}

	// Tolerate damaged input rather than aborting mid-item. MPEG-4/AVI
	// sources carry broken DTS runs and late headers, so they get ignored
	// timestamps and a wider probe window.
	fflags := "+genpts+discardcorrupt+fastseek"
	if info.NeedsWideProbe() {
		fflags += "+igndts"
	}
	args = append(args,
		"-fflags", fflags,
		"-flags", "+low_delay",
		"-strict", "experimental",
		"-err_detect", "ignore_err",
	)
	if info.NeedsWideProbe() {
		args = append(args, "-analyzeduration", "10M", "-probesize", "50M")
	} else {
		args = append(args, "-analyzeduration", "2M", "-probesize", "5M")
	}

	if isNetworkURL(resolved.URL) {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-rw_timeout", fmt.Sprintf("%d", sourceTimeout(resolved.Source).Microseconds()),
		)
		if headers := headerBlock(resolved); headers != "" {
			args = append(args, "-headers", headers)
		}
		if cookies := cookieLine(resolved); cookies != "" {
			args = append(args, "-cookies", cookies)
		}
	}

	if opts.Realtime && !isLiveSource(resolved) {
		args = append(args, "-re")
	}

	if seek := ClampSeek(opts.Seek, info.Duration); seek > 0 {
		args = append(args, "-ss", formatSeek(seek))
	}

	args = append(args, "-i", resolved.URL)

	// Video track.
	if copyVideo {
		args = append(args, "-c:v", "copy")
		if info.IsHEVC() {
			args = append(args, "-bsf:v", "hevc_mp4toannexb,dump_extra")
		} else {
			args = append(args, "-bsf:v", "h264_mp4toannexb,dump_extra")
		}
	} else if hwEncoder != "" {
		if opts.HWAccel == "vaapi" {
			args = append(args, "-vf", "format=nv12,hwupload")
		}
		args = append(args, "-c:v", hwEncoder, "-b:v", "6M", "-maxrate", "6M", "-bufsize", "12M", "-profile:v", "high")
		if opts.HWAccel == "videotoolbox" {
			args = append(args, "-allow_sw", "1")
		}
	} else {
		preset := "veryfast"
		if info.IsMPEG4() {
			preset = "ultrafast"
		}
		args = append(args,
			"-c:v", "libx264",
			"-preset", preset,
			"-crf", "23",
			"-maxrate", "6M",
			"-bufsize", "12M",
			"-pix_fmt", "yuv420p",
		)
	}

	// Audio track.
	if info.HasAudio() {
		if copyAudio {
			args = append(args, "-c:a", "copy")
		} else {
			args = append(args, "-c:a", "aac", "-b:a", "192k", "-ar", "48000", "-ac", "2")
			if hwEncoder != "" {
				// HW encoders free-run; resample audio against the wall
				// clock to keep A/V aligned.
				args = append(args, "-af", "aresample=async=1")
			}
		}
	} else {
		args = append(args, "-an")
	}

	args = append(args, syncFlags(copyVideo, copyAudio, hwEncoder != "")...)
	args = append(args, muxerFlags(opts.TargetBitrate)...)
	args = append(args, "pipe:1")
	return args
}

// syncFlags returns the A/V synchronization flag set for the copy/encode
// combination in play.
func syncFlags(copyVideo, copyAudio, hwEncode bool) []string {
	switch {
	case copyVideo && copyAudio:
		return []string{"-vsync", "passthrough", "-copyts", "-start_at_zero"}
	case copyVideo:
		return []string{"-async", "1", "-vsync", "passthrough"}
	case hwEncode:
		return []string{"-vsync", "cfr"}
	default:
		return []string{"-async", "1", "-vsync", "cfr"}
	}
}

// muxerFlags returns the MPEG-TS muxer configuration. Flush-on-write keeps
// chunk latency down; a zero interleave delta stops ffmpeg buffering whole
// GOPs before emitting.
func muxerFlags(targetBitrate int64) []string {
	if targetBitrate <= 0 {
		targetBitrate = 4_000_000
	}
	return []string{
		"-f", "mpegts",
		"-muxrate", fmt.Sprintf("%d", targetBitrate),
		"-pcr_period", "20",
		"-flush_packets", "1",
		"-fflags", "+flush_packets",
		"-max_interleave_delta", "0",
	}
}

// ClampSeek bounds an input seek offset against the probed duration.
// Unknown durations pass the seek through; seeks at or past the end
// restart from zero; seeks landing in the final safety margin are pulled
// back so playback produces output.
func ClampSeek(seek, duration time.Duration) time.Duration {
	if seek <= 0 {
		return 0
	}
	if duration <= 0 {
		return seek
	}
	if seek >= duration {
		return 0
	}
	if seek > duration-seekSafetyMargin {
		clamped := duration - seekSafetyMargin
		if clamped < 0 {
			return 0
		}
		return clamped
	}
	return seek
}

func formatSeek(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func isNetworkURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// isLiveSource reports whether the resolution points at a live stream,
// which paces itself and must not get -re.
func isLiveSource(resolved *resolver.ResolvedURL) bool {
	if resolved.Source == models.SourceYouTube && resolved.Metadata["live"] == "true" {
		return true
	}
	return strings.HasPrefix(resolved.URL, "pipe:")
}

// cookieLine renders resolution cookies in ffmpeg's Set-Cookie syntax.
func cookieLine(resolved *resolver.ResolvedURL) string {
	if len(resolved.Cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(resolved.Cookies))
	for _, c := range resolved.Cookies {
		parts = append(parts, fmt.Sprintf("%s=%s; path=/", c.Name, c.Value))
	}
	return strings.Join(parts, "\n")
}
