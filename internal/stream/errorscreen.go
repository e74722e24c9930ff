package stream

import (
	"fmt"
	"strings"

	"github.com/fieldcast/fieldcast/internal/config"
)

// screenSegmentSeconds is the length of one generated slate segment.
// The streamer loops the segment, so it only needs to be long enough to
// amortize the generation cost.
const screenSegmentSeconds = 6

// ScreenMessage is the text rendered onto an error/buffering screen.
type ScreenMessage struct {
	Title       string
	Subtitle    string
	ChannelName string
	ErrorCode   string
}

// BuildScreenCommand produces the ffmpeg argv that renders one slate
// segment as MPEG-TS on stdout. Pure; the subprocess work lives in
// ScreenGenerator.
func BuildScreenCommand(msg ScreenMessage, cfg config.ErrorScreenConfig, targetBitrate int64) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	size := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)

	// Video input.
	switch cfg.VisualMode {
	case "image", "slate":
		args = append(args, "-loop", "1", "-framerate", "30", "-i", cfg.ImagePath)
	case "static":
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("nullsrc=s=%s:r=30,geq=random(1)*255:128:128", size))
	case "smptebars":
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("smptebars=s=%s:r=30", size))
	case "black":
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=%s:r=30", size))
	default: // text
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("color=c=0x10141e:s=%s:r=30", size))
	}

	// Audio input.
	switch cfg.AudioMode {
	case "sine":
		args = append(args, "-f", "lavfi", "-i", "sine=frequency=1000:sample_rate=48000")
	case "noise":
		args = append(args, "-f", "lavfi", "-i", "anoisesrc=colour=white:sample_rate=48000:amplitude=0.03")
	case "beep":
		args = append(args, "-f", "lavfi", "-i", "sine=frequency=800:beep_factor=4:sample_rate=48000")
	case "file":
		args = append(args, "-stream_loop", "-1", "-i", cfg.AudioFile)
	default: // silent
		args = append(args, "-f", "lavfi", "-i", "anullsrc=r=48000:cl=stereo")
	}

	if filter := drawtextChain(msg, cfg); filter != "" {
		args = append(args, "-vf", filter)
	}

	args = append(args,
		"-t", fmt.Sprintf("%d", screenSegmentSeconds),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "stillimage",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "48000",
		"-ac", "2",
	)
	args = append(args, muxArgs(targetBitrate)...)
	args = append(args, "pipe:1")
	return args
}

// muxArgs mirrors the main pipeline's mpegts settings so a client sees a
// consistent mux across content/slate switches.
func muxArgs(targetBitrate int64) []string {
	if targetBitrate <= 0 {
		targetBitrate = 4_000_000
	}
	return []string{
		"-f", "mpegts",
		"-muxrate", fmt.Sprintf("%d", targetBitrate),
		"-pcr_period", "20",
		"-flush_packets", "1",
	}
}

// drawtextChain builds the overlay text filter. Modes without text
// overlays (static, smptebars) skip it.
func drawtextChain(msg ScreenMessage, cfg config.ErrorScreenConfig) string {
	switch cfg.VisualMode {
	case "static", "smptebars":
		return ""
	}

	font := ""
	if cfg.FontFile != "" {
		font = fmt.Sprintf("fontfile=%s:", cfg.FontFile)
	}

	var filters []string
	add := func(text string, fontsize int, x, y string) {
		if text == "" {
			return
		}
		filters = append(filters, fmt.Sprintf(
			"drawtext=%stext='%s':fontsize=%d:fontcolor=white:x=%s:y=%s",
			font, EscapeDrawtext(text), fontsize, x, y,
		))
	}

	add(msg.Title, 48, "(w-text_w)/2", "(h-text_h)/2-40")
	add(msg.Subtitle, 28, "(w-text_w)/2", "(h-text_h)/2+30")
	add(msg.ChannelName, 24, "40", "40")
	add(msg.ErrorCode, 20, "40", "h-text_h-40")

	// Wall clock bottom-right.
	filters = append(filters, fmt.Sprintf(
		"drawtext=%stext='%%{localtime\\:%%H\\\\\\:%%M\\\\\\:%%S}':fontsize=24:fontcolor=white:x=w-text_w-40:y=h-text_h-40",
		font,
	))

	return strings.Join(filters, ",")
}

// EscapeDrawtext escapes text for ffmpeg's drawtext filter. Backslashes
// must go first; then quotes, colons, and percent expansion characters.
func EscapeDrawtext(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, `:`, `\:`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return s
}
