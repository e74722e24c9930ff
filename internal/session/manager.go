package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/observability"
)

// CapacityError is returned when a channel is at its session cap.
type CapacityError struct {
	ChannelNumber int
	Limit         int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("channel %d is at its session limit (%d)", e.ChannelNumber, e.Limit)
}

// Callbacks fire on session lifecycle events. All callbacks are invoked
// outside the manager lock. ChannelEmpty fires once when the last
// session on a channel departs.
type Callbacks struct {
	SessionCreated func(snap Snapshot)
	SessionEnded   func(snap Snapshot, reason string)
	ChannelEmpty   func(channelID models.ULID)
}

// Manager is the authoritative registry of active client sessions. A
// single mutex guards all state; snapshots are copied out so callers
// never hold references into guarded state.
type Manager struct {
	cfg       config.SessionsConfig
	callbacks Callbacks
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	sessions  map[uuid.UUID]*StreamSession
	byChannel map[models.ULID]map[uuid.UUID]*StreamSession

	totalCreated int64
	totalEnded   int64
}

// NewManager creates a session manager.
func NewManager(cfg config.SessionsConfig, callbacks Callbacks, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPerChannel <= 0 {
		cfg.MaxPerChannel = 50
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 10
	}
	return &Manager{
		cfg:       cfg,
		callbacks: callbacks,
		logger:    observability.WithComponent(logger, "sessions"),
		now:       time.Now,
		sessions:  make(map[uuid.UUID]*StreamSession),
		byChannel: make(map[models.ULID]map[uuid.UUID]*StreamSession),
	}
}

// Create registers a new session, or returns *CapacityError when the
// channel is full.
func (m *Manager) Create(channelID models.ULID, channelNumber int, clientID string) (Snapshot, error) {
	now := m.now()

	m.mu.Lock()
	if len(m.byChannel[channelID]) >= m.cfg.MaxPerChannel {
		m.mu.Unlock()
		return Snapshot{}, &CapacityError{ChannelNumber: channelNumber, Limit: m.cfg.MaxPerChannel}
	}

	s := &StreamSession{
		ID:            uuid.New(),
		ClientID:      clientID,
		ChannelID:     channelID,
		ChannelNumber: channelNumber,
		State:         StateConnecting,
		AttachedAt:    now,
		LastActivity:  now,
	}
	m.sessions[s.ID] = s
	if m.byChannel[channelID] == nil {
		m.byChannel[channelID] = make(map[uuid.UUID]*StreamSession)
	}
	m.byChannel[channelID][s.ID] = s
	m.totalCreated++
	snap := s.snapshot(false)
	m.mu.Unlock()

	m.logger.Info("session created",
		"session", s.ID, "channel", channelNumber, "client", clientID)
	if m.callbacks.SessionCreated != nil {
		m.callbacks.SessionCreated(snap)
	}
	return snap, nil
}

// End removes a session. Unknown ids are a no-op: the HTTP handler and
// the cleanup worker may race to end the same session.
func (m *Manager) End(id uuid.UUID, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.State = StateDisconnected
	delete(m.sessions, id)
	delete(m.byChannel[s.ChannelID], id)
	channelEmpty := len(m.byChannel[s.ChannelID]) == 0
	if channelEmpty {
		delete(m.byChannel, s.ChannelID)
	}
	m.totalEnded++
	snap := s.snapshot(true)
	channelID := s.ChannelID
	m.mu.Unlock()

	m.logger.Info("session ended",
		"session", id,
		"channel", snap.ChannelNumber,
		"reason", reason,
		"bytes", snap.BytesSent,
		"duration", m.now().Sub(snap.AttachedAt).Round(time.Second))
	if m.callbacks.SessionEnded != nil {
		m.callbacks.SessionEnded(snap, reason)
	}
	if channelEmpty && m.callbacks.ChannelEmpty != nil {
		m.callbacks.ChannelEmpty(channelID)
	}
}

// Touch records generic client activity.
func (m *Manager) Touch(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivity = m.now()
	}
}

// RecordData accounts delivered bytes and marks the session active.
func (m *Manager) RecordData(id uuid.UUID, bytes int) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.BytesSent += int64(bytes)
	s.ChunkCount++
	s.LastDataAt = now
	s.LastActivity = now
	if s.State == StateConnecting || s.State == StateBuffering {
		s.State = StateActive
	}
}

// SetState moves a session to the given state.
func (m *Manager) SetState(id uuid.UUID, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.State = state
	}
}

// RecordError appends to the session's bounded error ring.
func (m *Manager) RecordError(id uuid.UUID, kind, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.recordError(SessionError{At: m.now(), Kind: kind, Message: msg})
		s.State = StateError
	}
}

// RecordRestart increments the session's restart count and reports
// whether another restart is allowed under the cap.
func (m *Manager) RecordRestart(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.RestartCount++
	return s.RestartCount <= m.cfg.MaxRestarts
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id uuid.UUID) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.snapshot(true), true
	}
	return Snapshot{}, false
}

// ByChannel returns snapshots of all sessions on one channel.
func (m *Manager) ByChannel(channelID models.ULID) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.byChannel[channelID]))
	for _, s := range m.byChannel[channelID] {
		out = append(out, s.snapshot(false))
	}
	return out
}

// All returns snapshots of every active session.
func (m *Manager) All() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot(false))
	}
	return out
}

// Count returns the number of active sessions on a channel.
func (m *Manager) Count(channelID models.ULID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byChannel[channelID])
}

// Totals returns lifetime created/ended counters and the active count.
func (m *Manager) Totals() (created, ended int64, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalCreated, m.totalEnded, len(m.sessions)
}

// Run drives the idle-cleanup loop until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.CleanupIdle()
		}
	}
}

// CleanupIdle ends every session idle past the configured timeout.
func (m *Manager) CleanupIdle() int {
	now := m.now()

	m.mu.Lock()
	var idle []uuid.UUID
	for id, s := range m.sessions {
		if s.IsIdle(now, m.cfg.IdleTimeout) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		m.End(id, "idle timeout")
	}
	return len(idle)
}
