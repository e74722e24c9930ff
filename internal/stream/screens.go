package stream

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/observability"
)

// screenTickInterval is how often the looping streamer emits a slice of
// the cached segment.
const screenTickInterval = 250 * time.Millisecond

// ScreenGenerator renders slate segments with ffmpeg and caches them per
// message, so repeated outages on the same channel reuse the segment.
type ScreenGenerator struct {
	ffmpegPath    string
	cfg           config.ErrorScreenConfig
	targetBitrate int64
	logger        *slog.Logger
	run           func(ctx context.Context, name string, args ...string) ([]byte, error)

	mu    sync.Mutex
	cache map[ScreenMessage][]byte
}

// NewScreenGenerator creates a generator using the given ffmpeg binary.
func NewScreenGenerator(ffmpegPath string, cfg config.ErrorScreenConfig, targetBitrate int64, logger *slog.Logger) *ScreenGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScreenGenerator{
		ffmpegPath:    ffmpegPath,
		cfg:           cfg,
		targetBitrate: targetBitrate,
		logger:        observability.WithComponent(logger, "errorscreen"),
		run:           runScreenCommand,
		cache:         make(map[ScreenMessage][]byte),
	}
}

func runScreenCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, errBuf.String())
	}
	return out.Bytes(), nil
}

// Generate renders one slate segment for the message. The returned bytes
// are whole TS packets.
func (g *ScreenGenerator) Generate(ctx context.Context, msg ScreenMessage) ([]byte, error) {
	g.mu.Lock()
	if seg, ok := g.cache[msg]; ok {
		g.mu.Unlock()
		return seg, nil
	}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	args := BuildScreenCommand(msg, g.cfg, g.targetBitrate)
	data, err := g.run(ctx, g.ffmpegPath, args...)
	if err != nil {
		return nil, fmt.Errorf("generating error screen: %w", err)
	}
	aligned, _ := AlignToPackets(data)
	if len(aligned) == 0 {
		return nil, fmt.Errorf("error screen segment is empty")
	}
	g.logger.Debug("rendered error screen segment",
		"title", msg.Title, "bytes", len(aligned), "took", time.Since(start))

	g.mu.Lock()
	g.cache[msg] = aligned
	g.mu.Unlock()
	return aligned, nil
}

// ScreenStreamer loops a generated segment into a sink at realtime pace,
// standing in for the transcoder while a channel cannot play content.
type ScreenStreamer struct {
	segment []byte
	sink    func([]byte)
}

// NewScreenStreamer creates a streamer for the given segment.
func NewScreenStreamer(segment []byte, sink func([]byte)) *ScreenStreamer {
	return &ScreenStreamer{segment: segment, sink: sink}
}

// Run loops the segment until ctx is cancelled. Each tick emits the slice
// of the segment proportional to elapsed time, aligned to packet
// boundaries, so downstream pacing sees a realtime source.
func (s *ScreenStreamer) Run(ctx context.Context) error {
	perTick := len(s.segment) * int(screenTickInterval) / int(screenSegmentSeconds*time.Second)
	perTick, _ = alignLen(perTick)
	if perTick <= 0 {
		perTick = TSPacketSize
	}

	ticker := time.NewTicker(screenTickInterval)
	defer ticker.Stop()

	pos := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			end := pos + perTick
			if end > len(s.segment) {
				end = len(s.segment)
			}
			s.sink(s.segment[pos:end])
			pos = end
			if pos >= len(s.segment) {
				pos = 0
			}
		}
	}
}

func alignLen(n int) (int, int) {
	aligned := n / TSPacketSize * TSPacketSize
	return aligned, n - aligned
}
