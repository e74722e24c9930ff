// Package stream contains the per-channel delivery pipeline: chunk
// fan-out to clients, realtime pacing, keepalive, error screens, and the
// supervisor that drives a channel's playout loop.
package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Broadcaster fans MPEG-TS chunks out to any number of subscribers.
//
// Chunks are kept in a bounded sequence-numbered window. Each subscriber
// reads at its own cursor; when a slow subscriber falls behind the window
// the cursor snaps forward and the skipped chunks count as dropped.
// Eviction is oldest-first, so fast subscribers are never penalized for a
// slow one.
type Broadcaster struct {
	mu         sync.Mutex
	chunks     []seqChunk
	bufferSize int64
	maxBuffer  int64
	firstSeq   uint64
	nextSeq    uint64
	subs       map[uuid.UUID]*Subscriber
	closed     bool
}

type seqChunk struct {
	seq  uint64
	data []byte
}

// NewBroadcaster creates a broadcaster retaining at most maxBuffer bytes.
func NewBroadcaster(maxBuffer int64) *Broadcaster {
	if maxBuffer <= 0 {
		maxBuffer = 2 * 1024 * 1024
	}
	return &Broadcaster{
		maxBuffer: maxBuffer,
		subs:      make(map[uuid.UUID]*Subscriber),
	}
}

// Write appends a chunk to the window and wakes all subscribers.
// The chunk is not copied; callers must not reuse the slice.
func (b *Broadcaster) Write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.chunks = append(b.chunks, seqChunk{seq: b.nextSeq, data: chunk})
	b.nextSeq++
	b.bufferSize += int64(len(chunk))

	for b.bufferSize > b.maxBuffer && len(b.chunks) > 1 {
		b.bufferSize -= int64(len(b.chunks[0].data))
		b.chunks = b.chunks[1:]
		b.firstSeq++
	}

	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.notify()
	}
}

// Subscribe attaches a new subscriber starting at the live edge.
func (b *Broadcaster) Subscribe(id uuid.UUID) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broadcaster closed")
	}
	s := &Subscriber{
		id:     id,
		b:      b,
		cursor: b.nextSeq,
		wake:   make(chan struct{}, 1),
	}
	b.subs[id] = s
	return s, nil
}

// Unsubscribe detaches the subscriber. Its pending Next calls return EOF.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		s.detached.Store(true)
		s.notify()
	}
}

// Close detaches all subscribers; their Next calls drain the window and
// then return EOF.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[uuid.UUID]*Subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.detached.Store(true)
		s.notify()
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// next returns the chunk at or after cursor, the following cursor value,
// and how many chunks were skipped. ok is false when the subscriber is
// at the live edge.
func (b *Broadcaster) next(cursor uint64) (data []byte, nextCursor uint64, skipped uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cursor < b.firstSeq {
		skipped = b.firstSeq - cursor
		cursor = b.firstSeq
	}
	if cursor >= b.nextSeq {
		return nil, cursor, skipped, false
	}
	return b.chunks[cursor-b.firstSeq].data, cursor + 1, skipped, true
}

func (b *Broadcaster) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Subscriber is one client's read position in the broadcast window.
type Subscriber struct {
	id       uuid.UUID
	b        *Broadcaster
	cursor   uint64
	wake     chan struct{}
	detached atomic.Bool

	bytesRead     atomic.Int64
	chunksDropped atomic.Int64
}

func (s *Subscriber) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next returns the subscriber's next chunk, blocking until one arrives,
// ctx is cancelled, or the broadcaster closes (io.EOF after draining).
func (s *Subscriber) Next(ctx context.Context) ([]byte, error) {
	for {
		data, cursor, skipped, ok := s.b.next(s.cursor)
		if ok {
			s.cursor = cursor
			if skipped > 0 {
				s.chunksDropped.Add(int64(skipped))
			}
			s.bytesRead.Add(int64(len(data)))
			return data, nil
		}

		if s.detached.Load() || s.b.isClosed() {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.wake:
		}
	}
}

// ID returns the subscriber id.
func (s *Subscriber) ID() uuid.UUID { return s.id }

// BytesRead returns the total bytes delivered to this subscriber.
func (s *Subscriber) BytesRead() int64 { return s.bytesRead.Load() }

// ChunksDropped returns how many chunks were skipped because the
// subscriber fell behind the window.
func (s *Subscriber) ChunksDropped() int64 { return s.chunksDropped.Load() }
