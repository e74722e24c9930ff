package transcoder

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fieldcast/fieldcast/internal/observability"
	"github.com/fieldcast/fieldcast/internal/resolver"
)

// ChunkSize is the stdout read granularity.
const ChunkSize = 64 * 1024

// stderrTailBytes is how much trailing stderr is kept for error reports.
const stderrTailBytes = 500

// Transcoder launches and supervises ffmpeg pipelines.
type Transcoder struct {
	ffmpegPath string
	killGrace  time.Duration
	logger     *slog.Logger
}

// New creates a Transcoder for the given ffmpeg binary.
func New(ffmpegPath string, killGrace time.Duration, logger *slog.Logger) *Transcoder {
	if killGrace <= 0 {
		killGrace = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{
		ffmpegPath: ffmpegPath,
		killGrace:  killGrace,
		logger:     observability.WithComponent(logger, "transcoder"),
	}
}

// Stream is a running ffmpeg process emitting MPEG-TS chunks.
type Stream struct {
	cmd       *exec.Cmd
	chunks    chan []byte
	done      chan struct{}
	stderr    *tailBuffer
	killGrace time.Duration
	logger    *slog.Logger

	bytesOut atomic.Int64
	stopped  atomic.Bool

	abortMu  sync.Mutex
	abortErr error

	waitOnce sync.Once
	waitErr  error
}

// Start launches ffmpeg with the given arguments. Chunks arrive on
// Chunks() until the process exits or Stop is called.
func (t *Transcoder) Start(args []string) (*Stream, error) {
	cmd := exec.Command(t.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	s := &Stream{
		cmd:       cmd,
		chunks:    make(chan []byte, 4),
		done:      make(chan struct{}),
		stderr:    newTailBuffer(stderrTailBytes),
		killGrace: t.killGrace,
		logger:    t.logger.With(slog.Int("pid", cmd.Process.Pid)),
	}

	go func() {
		_, _ = io.Copy(s.stderr, stderr)
	}()
	go s.pump(stdout)

	s.logger.Debug("ffmpeg started")
	return s, nil
}

// pump reads stdout into fixed chunks until the pipe closes, then reaps
// the process.
func (s *Stream) pump(stdout io.Reader) {
	defer close(s.done)
	defer close(s.chunks)

	buf := make([]byte, ChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.bytesOut.Add(int64(n))
			s.chunks <- chunk
		}
		if err != nil {
			break
		}
	}

	err := s.cmd.Wait()
	s.waitOnce.Do(func() {
		s.abortMu.Lock()
		abort := s.abortErr
		s.abortMu.Unlock()

		switch {
		case abort != nil:
			s.waitErr = resolver.NewError("pipeline", resolver.KindTimeout,
				fmt.Errorf("pipeline aborted: %w", abort))
		case err != nil && !s.stopped.Load():
			s.waitErr = classifyExit(
				fmt.Errorf("ffmpeg exited: %w: %s", err, s.stderr.String()),
				s.stderr.String())
		}
	})
}

// Chunks returns the channel of MPEG-TS chunks. Closed on process exit.
func (s *Stream) Chunks() <-chan []byte {
	return s.chunks
}

// Wait blocks until the process has exited and all chunks were delivered.
// Returns nil for a clean exit or a deliberate Stop; an Abort or a
// non-zero exit returns a classified pipeline error.
func (s *Stream) Wait() error {
	<-s.done
	return s.waitErr
}

// Abort terminates the process like Stop, but marks the termination as a
// failure: Wait returns a retryable timeout-class error carrying cause
// instead of reporting a clean exit. The watchdog uses it so a stall kill
// re-enters the supervisor's recovery policy rather than consuming the
// item.
func (s *Stream) Abort(cause error) {
	s.abortMu.Lock()
	if s.abortErr == nil {
		s.abortErr = cause
	}
	s.abortMu.Unlock()
	s.Stop()
}

// Stop terminates the process gracefully: SIGTERM, a grace period, then
// SIGKILL. Safe to call multiple times and after exit.
func (s *Stream) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		<-s.done
		return
	}

	select {
	case <-s.done:
		return
	default:
	}

	_ = s.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-s.done:
	case <-time.After(s.killGrace):
		s.logger.Warn("ffmpeg ignored SIGTERM, killing")
		_ = s.cmd.Process.Kill()
		<-s.done
	}
}

// PID returns the process id.
func (s *Stream) PID() int {
	return s.cmd.Process.Pid
}

// BytesOut returns the total bytes read from stdout so far.
func (s *Stream) BytesOut() int64 {
	return s.bytesOut.Load()
}

// StderrTail returns the trailing stderr output captured so far.
func (s *Stream) StderrTail() string {
	return s.stderr.String()
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.size {
		t.buf = t.buf[len(t.buf)-t.size:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
