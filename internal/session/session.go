// Package session tracks client connections across channels: capacity
// enforcement, idle cleanup, and per-session delivery statistics.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldcast/fieldcast/internal/models"
)

// State is a session's lifecycle phase.
type State string

const (
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateBuffering    State = "buffering"
	StatePaused       State = "paused"
	StateError        State = "error"
	StateDisconnected State = "disconnected"
)

// healthyDataWindow is how recently a session must have received data to
// count as healthy.
const healthyDataWindow = 30 * time.Second

// errorRingSize bounds per-session error history.
const errorRingSize = 50

// SessionError is one recorded delivery error.
type SessionError struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// StreamSession is one client connection to a channel. Fields are
// guarded by the owning Manager's lock; Snapshot returns a copy safe to
// hand out.
type StreamSession struct {
	ID            uuid.UUID
	ClientID      string
	ChannelID     models.ULID
	ChannelNumber int

	State        State
	AttachedAt   time.Time
	LastActivity time.Time
	LastDataAt   time.Time

	BytesSent  int64
	ChunkCount int64

	RestartCount int
	errors       []SessionError
}

// IsIdle reports whether the session has seen no activity within the
// idle timeout.
func (s *StreamSession) IsIdle(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(s.LastActivity) > idleTimeout
}

// IsHealthy reports whether the session is active and recently received
// data.
func (s *StreamSession) IsHealthy(now time.Time) bool {
	return s.State == StateActive && now.Sub(s.LastDataAt) < healthyDataWindow
}

// Errors returns a copy of the recorded error ring, oldest first.
func (s *StreamSession) Errors() []SessionError {
	out := make([]SessionError, len(s.errors))
	copy(out, s.errors)
	return out
}

func (s *StreamSession) recordError(e SessionError) {
	s.errors = append(s.errors, e)
	if len(s.errors) > errorRingSize {
		s.errors = s.errors[len(s.errors)-errorRingSize:]
	}
}

// Snapshot is a point-in-time copy of a session's public state.
type Snapshot struct {
	ID            uuid.UUID      `json:"id"`
	ClientID      string         `json:"client_id"`
	ChannelID     models.ULID    `json:"channel_id"`
	ChannelNumber int            `json:"channel_number"`
	State         State          `json:"state"`
	AttachedAt    time.Time      `json:"attached_at"`
	LastActivity  time.Time      `json:"last_activity"`
	LastDataAt    time.Time      `json:"last_data_at"`
	BytesSent     int64          `json:"bytes_sent"`
	ChunkCount    int64          `json:"chunk_count"`
	RestartCount  int            `json:"restart_count"`
	ErrorCount    int            `json:"error_count"`
	Errors        []SessionError `json:"errors,omitempty"`
}

func (s *StreamSession) snapshot(withErrors bool) Snapshot {
	snap := Snapshot{
		ID:            s.ID,
		ClientID:      s.ClientID,
		ChannelID:     s.ChannelID,
		ChannelNumber: s.ChannelNumber,
		State:         s.State,
		AttachedAt:    s.AttachedAt,
		LastActivity:  s.LastActivity,
		LastDataAt:    s.LastDataAt,
		BytesSent:     s.BytesSent,
		ChunkCount:    s.ChunkCount,
		RestartCount:  s.RestartCount,
		ErrorCount:    len(s.errors),
	}
	if withErrors {
		snap.Errors = s.Errors()
	}
	return snap
}
