// Package transcoder probes media and runs the ffmpeg pipeline that turns
// any playable source into MPEG-TS on stdout.
package transcoder

import (
	"strings"
	"time"
)

// copyableAudioCodecs are carried into MPEG-TS without re-encoding, but
// only while the video track is also stream-copied.
var copyableAudioCodecs = map[string]bool{
	"aac":  true,
	"mp3":  true,
	"mp2":  true,
	"ac3":  true,
	"eac3": true,
}

// CodecInfo summarizes the probe result for transcode decisions.
type CodecInfo struct {
	VideoCodec string
	AudioCodec string
	Container  string
	PixelFmt   string
	Width      int
	Height     int
	FrameRate  float64
	Duration   time.Duration
	Bitrate    int64
}

// CanCopyVideo reports whether the video track can be stream-copied into
// MPEG-TS. H.264 and HEVC both mux cleanly once run through their annex-B
// bitstream filter.
func (c *CodecInfo) CanCopyVideo() bool {
	switch c.VideoCodec {
	case "h264", "hevc":
		return c.PixelFmt == "" || strings.HasPrefix(c.PixelFmt, "yuv420p")
	}
	return false
}

// IsHEVC reports whether the video track is HEVC/H.265.
func (c *CodecInfo) IsHEVC() bool {
	return c.VideoCodec == "hevc"
}

// CanCopyAudio reports whether the audio track may be stream-copied.
// Audio copy is only considered when video copies too; mixing a copied
// audio clock with re-encoded video drifts.
func (c *CodecInfo) CanCopyAudio() bool {
	return c.CanCopyVideo() && copyableAudioCodecs[c.AudioCodec]
}

// HasAudio reports whether an audio track was found.
func (c *CodecInfo) HasAudio() bool {
	return c.AudioCodec != ""
}

// mpeg4Codecs are the MPEG-4 part 2 families. Their decoders fight
// hardware acceleration and their timestamps are unreliable, so they get
// a dedicated input profile.
var mpeg4Codecs = map[string]bool{
	"mpeg4":     true,
	"msmpeg4v1": true,
	"msmpeg4v2": true,
	"msmpeg4v3": true,
}

// IsMPEG4 reports whether the video track is an MPEG-4 part 2 variant.
func (c *CodecInfo) IsMPEG4() bool {
	return mpeg4Codecs[c.VideoCodec]
}

// NeedsWideProbe reports whether the input needs widened probe windows
// and ignored DTS. MPEG-4 codecs and AVI containers carry late headers
// and broken timestamp runs.
func (c *CodecInfo) NeedsWideProbe() bool {
	if c.IsMPEG4() {
		return true
	}
	for _, name := range strings.Split(c.Container, ",") {
		if strings.TrimSpace(name) == "avi" {
			return true
		}
	}
	return false
}
