package transcoder

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcast/fieldcast/internal/resolver"
)

const sampleProbeJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "pix_fmt": "yuv420p", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "5400.500000", "bit_rate": "3500000"}
}`

func TestProbeParsesOutput(t *testing.T) {
	var gotArgs []string
	p := NewProber("ffprobe", 5*time.Second)
	p.run = func(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
		gotArgs = args
		return []byte(sampleProbeJSON), nil, nil
	}

	headers := http.Header{}
	headers.Set("X-Plex-Token", "tok")
	info, err := p.Probe(context.Background(), &resolver.ResolvedURL{URL: "https://x/v.mp4", Headers: headers})
	require.NoError(t, err)

	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 29.97, info.FrameRate, 0.01)
	assert.Equal(t, 5400*time.Second+500*time.Millisecond, info.Duration)
	assert.Equal(t, int64(3500000), info.Bitrate)
	assert.True(t, info.CanCopyVideo())
	assert.True(t, info.CanCopyAudio())
	assert.False(t, info.NeedsWideProbe(), "clean mp4 keeps the modest probe window")

	assert.Contains(t, gotArgs, "-show_streams")
	assert.Contains(t, gotArgs, "-headers")
	assert.Equal(t, "https://x/v.mp4", gotArgs[len(gotArgs)-1])
}

func TestProbeFailure(t *testing.T) {
	p := NewProber("ffprobe", 5*time.Second)
	p.run = func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return nil, []byte("Server returned 404 Not Found"), errors.New("exit status 1")
	}

	_, err := p.Probe(context.Background(), &resolver.ResolvedURL{URL: "https://x/v.mp4"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 0.01)
	assert.Equal(t, 25.0, parseFrameRate("25/1"))
	assert.Equal(t, 24.0, parseFrameRate("24"))
	assert.Equal(t, 0.0, parseFrameRate("30/0"))
	assert.Equal(t, 0.0, parseFrameRate("garbage"))
}

func TestCodecInfoDecisions(t *testing.T) {
	hevc := &CodecInfo{VideoCodec: "hevc", AudioCodec: "eac3", PixelFmt: "yuv420p10le"}
	assert.True(t, hevc.CanCopyVideo())
	assert.True(t, hevc.IsHEVC())
	assert.True(t, hevc.CanCopyAudio())

	vp9 := &CodecInfo{VideoCodec: "vp9", AudioCodec: "aac"}
	assert.False(t, vp9.CanCopyVideo())
	assert.False(t, vp9.CanCopyAudio(), "audio copy requires video copy")

	noAudio := &CodecInfo{VideoCodec: "h264"}
	assert.False(t, noAudio.HasAudio())

	for _, codec := range []string{"mpeg4", "msmpeg4v2", "msmpeg4v3"} {
		info := &CodecInfo{VideoCodec: codec, Container: "avi"}
		assert.True(t, info.IsMPEG4(), codec)
		assert.True(t, info.NeedsWideProbe(), codec)
	}
	avi := &CodecInfo{VideoCodec: "h264", Container: "avi"}
	assert.False(t, avi.IsMPEG4())
	assert.True(t, avi.NeedsWideProbe())
}

func TestHeaderBlockSortsKeys(t *testing.T) {
	headers := http.Header{}
	headers.Set("User-Agent", "agent")
	headers.Set("Referer", "https://archive.org/")
	headers.Set("Origin", "https://archive.org")
	res := &resolver.ResolvedURL{URL: "https://x/v.mp4", Headers: headers}

	want := "Origin: https://archive.org\r\nReferer: https://archive.org/\r\nUser-Agent: agent\r\n"
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, headerBlock(res))
	}
}
