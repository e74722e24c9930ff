package transcoder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcast/fieldcast/internal/resolver"
)

// shTranscoder runs /bin/sh instead of ffmpeg so process supervision can
// be exercised without media tooling.
func shTranscoder() *Transcoder {
	return New("/bin/sh", time.Second, nil)
}

func TestStreamDeliversChunksAndExitsCleanly(t *testing.T) {
	s, err := shTranscoder().Start([]string{"-c", "printf 'abcdef'"})
	require.NoError(t, err)

	var got []byte
	for chunk := range s.Chunks() {
		got = append(got, chunk...)
	}
	require.NoError(t, s.Wait())
	assert.Equal(t, "abcdef", string(got))
	assert.Equal(t, int64(6), s.BytesOut())
}

func TestStreamFailureIncludesStderrTail(t *testing.T) {
	s, err := shTranscoder().Start([]string{"-c", "echo 'Connection refused' >&2; exit 1"})
	require.NoError(t, err)

	for range s.Chunks() {
	}
	err = s.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Connection refused")
	assert.Contains(t, s.StderrTail(), "Connection refused")
}

func TestStreamStopTerminates(t *testing.T) {
	s, err := shTranscoder().Start([]string{"-c", "sleep 30"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range s.Chunks() {
		}
		close(done)
	}()

	start := time.Now()
	s.Stop()
	<-done

	assert.Less(t, time.Since(start), 5*time.Second)
	// Deliberate stops do not surface an exit error.
	assert.NoError(t, s.Wait())
}

func TestStreamAbortSurfacesFailure(t *testing.T) {
	s, err := shTranscoder().Start([]string{"-c", "sleep 30"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range s.Chunks() {
		}
		close(done)
	}()

	s.Abort(errors.New("no output for 35s"))
	<-done

	err = s.Wait()
	require.Error(t, err, "an aborted pipeline must not look like a clean exit")
	assert.Equal(t, resolver.KindTimeout, resolver.KindOf(err))
	assert.True(t, resolver.IsRetryable(err))
	assert.Contains(t, err.Error(), "no output for 35s")
}

func TestStreamExitErrorsAreClassified(t *testing.T) {
	s, err := shTranscoder().Start([]string{"-c", "echo 'HTTP error 403 Forbidden, URL signature expired' >&2; exit 1"})
	require.NoError(t, err)

	for range s.Chunks() {
	}
	err = s.Wait()
	require.Error(t, err)
	assert.Equal(t, resolver.KindExpired, resolver.KindOf(err))
	assert.True(t, resolver.IsRetryable(err))
	assert.True(t, resolver.WantsForceRefresh(err))
}

func TestClassifyExit(t *testing.T) {
	tests := []struct {
		stderr    string
		kind      resolver.ErrorKind
		retryable bool
	}{
		{"Server returned 403 Forbidden (access denied)", resolver.KindExpired, true},
		{"URL signature expired", resolver.KindExpired, true},
		{"Server returned 401 Unauthorized", resolver.KindAccessDenied, true},
		{"Server returned 404 Not Found", resolver.KindNotFound, false},
		{"Server returned 429 Too Many Requests", resolver.KindRateLimited, true},
		{"Connection reset by peer", resolver.KindNetwork, true},
		{"End of file", resolver.KindNetwork, true},
		{"Invalid data found when processing input", resolver.KindCodec, false},
		{"Decoder not found for stream 0", resolver.KindCodec, false},
		{"something nobody has seen before", resolver.KindUpstream, true},
	}
	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			err := classifyExit(errors.New("exit status 1"), tt.stderr)
			assert.Equal(t, tt.kind, resolver.KindOf(err))
			assert.Equal(t, tt.retryable, resolver.IsRetryable(err))
		})
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(5)
	_, _ = tb.Write([]byte("hello world"))
	assert.Equal(t, "world", tb.String())

	_, _ = tb.Write([]byte("!"))
	assert.Equal(t, "orld!", tb.String())
}
