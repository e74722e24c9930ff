package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerator(t *testing.T, run func(ctx context.Context, name string, args ...string) ([]byte, error)) *ScreenGenerator {
	t.Helper()
	g := NewScreenGenerator("ffmpeg", screenConfig("black", "silent"), 4_000_000, nil)
	g.run = run
	return g
}

func TestScreenGeneratorAlignsOutput(t *testing.T) {
	raw := make([]byte, 10*TSPacketSize+17)
	g := testGenerator(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return raw, nil
	})

	seg, err := g.Generate(context.Background(), ScreenMessage{Title: "x"})
	require.NoError(t, err)
	assert.Len(t, seg, 10*TSPacketSize, "trailing partial packet trimmed")
}

func TestScreenGeneratorCachesPerMessage(t *testing.T) {
	calls := 0
	g := testGenerator(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return make([]byte, TSPacketSize), nil
	})

	ctx := context.Background()
	msg := ScreenMessage{Title: "Channel Unavailable"}
	_, err := g.Generate(ctx, msg)
	require.NoError(t, err)
	_, err = g.Generate(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "same message reuses the cached segment")

	_, err = g.Generate(ctx, ScreenMessage{Title: "One Moment"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "different message renders fresh")
}

func TestScreenGeneratorErrors(t *testing.T) {
	g := testGenerator(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("ffmpeg exploded")
	})
	_, err := g.Generate(context.Background(), ScreenMessage{})
	assert.ErrorContains(t, err, "ffmpeg exploded")

	g = testGenerator(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return make([]byte, 50), nil // less than one packet
	})
	_, err = g.Generate(context.Background(), ScreenMessage{})
	assert.ErrorContains(t, err, "empty")
}

func TestScreenStreamerLoopsSegment(t *testing.T) {
	segment := make([]byte, 4*TSPacketSize)

	var mu sync.Mutex
	var total int
	s := NewScreenStreamer(segment, func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		total += len(b)
		assert.Zero(t, len(b)%TSPacketSize, "sink only sees whole packets")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	// Two ticks minimum in 700ms; looping means total may exceed the
	// segment length.
	assert.GreaterOrEqual(t, total, 2*TSPacketSize)
}
