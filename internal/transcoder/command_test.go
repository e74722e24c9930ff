package transcoder

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/resolver"
)

func h264Info() *CodecInfo {
	return &CodecInfo{
		VideoCodec: "h264", AudioCodec: "aac", Container: "mov,mp4,m4a,3gp,3g2,mj2",
		PixelFmt: "yuv420p", Width: 1920, Height: 1080, FrameRate: 24, Duration: 90 * time.Minute,
	}
}

// argPair asserts flag is followed immediately by value.
func argPair(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			assert.Equal(t, value, args[i+1], "value of %s", flag)
			return
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
}

func TestBuildCommandDeterministic(t *testing.T) {
	res := &resolver.ResolvedURL{URL: "https://example.com/v.mp4", Source: models.SourcePlex}
	a := BuildCommand(res, h264Info(), Options{Seek: time.Minute})
	b := BuildCommand(res, h264Info(), Options{Seek: time.Minute})
	assert.Equal(t, a, b)
}

func TestBuildCommandStreamCopy(t *testing.T) {
	res := &resolver.ResolvedURL{URL: "https://example.com/v.mp4", Source: models.SourcePlex}
	args := BuildCommand(res, h264Info(), Options{})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined,
		"-c:v copy -bsf:v h264_mp4toannexb,dump_extra -c:a copy -vsync passthrough -copyts -start_at_zero -f mpegts")
	assert.NotContains(t, joined, "libx264")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestBuildCommandHEVCBitstreamFilter(t *testing.T) {
	info := h264Info()
	info.VideoCodec = "hevc"
	res := &resolver.ResolvedURL{URL: "https://example.com/v.mp4"}

	args := BuildCommand(res, info, Options{})
	argPair(t, args, "-bsf:v", "hevc_mp4toannexb,dump_extra")
}

func TestBuildCommandReencodeVideo(t *testing.T) {
	info := h264Info()
	info.VideoCodec = "vp9"
	res := &resolver.ResolvedURL{URL: "https://example.com/v.webm"}

	args := BuildCommand(res, info, Options{})
	argPair(t, args, "-c:v", "libx264")
	argPair(t, args, "-preset", "veryfast")
	argPair(t, args, "-crf", "23")
	argPair(t, args, "-maxrate", "6M")
	argPair(t, args, "-pix_fmt", "yuv420p")
	// Audio never copies against re-encoded video.
	argPair(t, args, "-c:a", "aac")
	argPair(t, args, "-b:a", "192k")
	argPair(t, args, "-ar", "48000")
	argPair(t, args, "-ac", "2")
	assert.NotContains(t, args, "-copyts")
	argPair(t, args, "-async", "1")
	argPair(t, args, "-vsync", "cfr")
}

func TestBuildCommandMPEG4Profile(t *testing.T) {
	info := h264Info()
	info.VideoCodec = "mpeg4"
	info.Container = "avi"
	res := &resolver.ResolvedURL{URL: "https://example.com/v.avi"}

	args := BuildCommand(res, info, Options{HWAccel: "cuda"})
	// MPEG-4 part 2 disables hardware paths entirely.
	assert.NotContains(t, args, "-hwaccel")
	assert.NotContains(t, args, "h264_nvenc")
	argPair(t, args, "-c:v", "libx264")
	argPair(t, args, "-preset", "ultrafast")
	assert.Contains(t, strings.Join(args, " "), "+igndts")
}

func TestBuildCommandErrorToleranceFlags(t *testing.T) {
	args := BuildCommand(&resolver.ResolvedURL{URL: "/media/a.mkv"}, h264Info(), Options{})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-fflags +genpts+discardcorrupt+fastseek")
	assert.Contains(t, joined, "-flags +low_delay")
	argPair(t, args, "-strict", "experimental")
	argPair(t, args, "-err_detect", "ignore_err")
}

func TestBuildCommandHWEncoders(t *testing.T) {
	tests := []struct {
		accel   string
		encoder string
	}{
		{"videotoolbox", "h264_videotoolbox"},
		{"cuda", "h264_nvenc"},
		{"qsv", "h264_qsv"},
		{"vaapi", "h264_vaapi"},
	}

	info := h264Info()
	info.VideoCodec = "vp9"
	res := &resolver.ResolvedURL{URL: "https://example.com/v.webm"}

	for _, tt := range tests {
		t.Run(tt.accel, func(t *testing.T) {
			args := BuildCommand(res, info, Options{HWAccel: tt.accel})
			argPair(t, args, "-hwaccel", tt.accel)
			argPair(t, args, "-c:v", tt.encoder)
			argPair(t, args, "-b:v", "6M")
			argPair(t, args, "-profile:v", "high")
			// HW encode pulls audio through an async resampler.
			argPair(t, args, "-af", "aresample=async=1")
			argPair(t, args, "-vsync", "cfr")
			if tt.accel == "videotoolbox" {
				argPair(t, args, "-allow_sw", "1")
			} else {
				assert.NotContains(t, args, "-allow_sw")
			}
		})
	}
}

func TestBuildCommandAudioCopySet(t *testing.T) {
	res := &resolver.ResolvedURL{URL: "https://example.com/v.mp4"}
	for _, codec := range []string{"aac", "mp3", "mp2", "ac3", "eac3"} {
		info := h264Info()
		info.AudioCodec = codec
		args := BuildCommand(res, info, Options{})
		argPair(t, args, "-c:a", "copy")
	}

	info := h264Info()
	info.AudioCodec = "opus"
	args := BuildCommand(res, info, Options{})
	argPair(t, args, "-c:a", "aac")
}

func TestBuildCommandNoAudio(t *testing.T) {
	info := h264Info()
	info.AudioCodec = ""
	args := BuildCommand(&resolver.ResolvedURL{URL: "https://example.com/v.mp4"}, info, Options{})
	assert.Contains(t, args, "-an")
}

func TestBuildCommandNetworkInputFlags(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Plex-Token", "tok")
	res := &resolver.ResolvedURL{URL: "https://plex.local/file.mkv", Source: models.SourcePlex, Headers: headers}

	args := BuildCommand(res, h264Info(), Options{})
	argPair(t, args, "-reconnect", "1")
	argPair(t, args, "-rw_timeout", "60000000")
	argPair(t, args, "-headers", "X-Plex-Token: tok\r\n")
}

func TestBuildCommandPerSourceTimeouts(t *testing.T) {
	tests := []struct {
		source models.SourceKind
		want   string
	}{
		{models.SourceYouTube, "45000000"},
		{models.SourceArchive, "60000000"},
		{models.SourcePlex, "60000000"},
		{models.SourceJellyfin, "60000000"},
	}
	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			res := &resolver.ResolvedURL{URL: "https://cdn.example.com/v.mp4", Source: tt.source}
			args := BuildCommand(res, h264Info(), Options{})
			argPair(t, args, "-rw_timeout", tt.want)
		})
	}
}

func TestBuildCommandLocalInputSkipsNetworkFlags(t *testing.T) {
	res := &resolver.ResolvedURL{URL: "/media/movie.mkv", Source: models.SourceLocal}
	args := BuildCommand(res, h264Info(), Options{Realtime: true})

	assert.NotContains(t, args, "-reconnect")
	assert.Contains(t, args, "-re")
}

func TestBuildCommandWideningContainers(t *testing.T) {
	info := h264Info()
	info.Container = "avi"
	args := BuildCommand(&resolver.ResolvedURL{URL: "/media/a.avi"}, info, Options{})
	argPair(t, args, "-analyzeduration", "10M")
	argPair(t, args, "-probesize", "50M")

	info.Container = "matroska,webm"
	args = BuildCommand(&resolver.ResolvedURL{URL: "/media/a.mkv"}, info, Options{})
	argPair(t, args, "-analyzeduration", "2M")
	argPair(t, args, "-probesize", "5M")
}

func TestBuildCommandSeekBeforeInput(t *testing.T) {
	res := &resolver.ResolvedURL{URL: "/media/a.mkv"}
	args := BuildCommand(res, h264Info(), Options{Seek: 10 * time.Minute})

	seekIdx, inputIdx := -1, -1
	for i, a := range args {
		switch a {
		case "-ss":
			seekIdx = i
		case "-i":
			inputIdx = i
		}
	}
	require.GreaterOrEqual(t, seekIdx, 0)
	require.Greater(t, inputIdx, seekIdx, "-ss must precede -i")
	assert.Equal(t, "600.000", args[seekIdx+1])
}

func TestBuildCommandMuxerFlags(t *testing.T) {
	args := BuildCommand(&resolver.ResolvedURL{URL: "/media/a.mkv"}, h264Info(), Options{TargetBitrate: 4_000_000})
	argPair(t, args, "-f", "mpegts")
	argPair(t, args, "-muxrate", "4000000")
	argPair(t, args, "-pcr_period", "20")
	argPair(t, args, "-flush_packets", "1")
	argPair(t, args, "-max_interleave_delta", "0")
	assert.Contains(t, strings.Join(args, " "), "-fflags +flush_packets")
}

func TestClampSeek(t *testing.T) {
	dur := 60 * time.Minute
	tests := []struct {
		name string
		seek time.Duration
		want time.Duration
	}{
		{"zero", 0, 0},
		{"negative", -time.Minute, 0},
		{"normal", 10 * time.Minute, 10 * time.Minute},
		{"at duration restarts", dur, 0},
		{"past duration restarts", 2 * dur, 0},
		{"inside safety margin pulls back", dur - 3*time.Second, dur - 10*time.Second},
		{"exactly at margin edge", dur - 10*time.Second, dur - 10*time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampSeek(tt.seek, dur))
		})
	}

	// Unknown duration passes the seek through.
	assert.Equal(t, 5*time.Minute, ClampSeek(5*time.Minute, 0))
	// Short files never go negative.
	assert.Equal(t, time.Duration(0), ClampSeek(4*time.Second, 8*time.Second))
}
