package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/observability"
	"github.com/fieldcast/fieldcast/internal/repository"
)

// idleGrace is how long a channel keeps playing after its last
// subscriber departs. A client that reconnects within the grace picks up
// the running pipeline without a restart.
const idleGrace = 60 * time.Second

// ChannelManager owns one supervisor per active channel. Supervisors
// start on demand when a client tunes in, stay warm for AlwaysOn
// channels, and tear down after an idle grace once the session manager
// reports the channel empty.
type ChannelManager struct {
	channels repository.ChannelRepository
	deps     SupervisorDeps
	logger   *slog.Logger

	mu     sync.Mutex
	active map[models.ULID]*Supervisor
	timers map[models.ULID]*time.Timer

	ctx context.Context
}

// NewChannelManager creates a channel manager. Supervisors inherit deps;
// each gets its own broadcaster.
func NewChannelManager(channels repository.ChannelRepository, deps SupervisorDeps) *ChannelManager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelManager{
		channels: channels,
		deps:     deps,
		logger:   observability.WithComponent(logger, "channels"),
		active:   make(map[models.ULID]*Supervisor),
		timers:   make(map[models.ULID]*time.Timer),
	}
}

// Start records the lifetime context and warms up AlwaysOn channels.
func (m *ChannelManager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	channels, err := m.channels.List(ctx)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}
	for _, ch := range channels {
		if !ch.AlwaysOn {
			continue
		}
		if _, err := m.Acquire(ctx, ch.Number); err != nil {
			m.logger.Error("warming always-on channel", "channel", ch.Number, "error", err)
		}
	}
	return nil
}

// Acquire returns the running supervisor for the channel number, starting
// one if needed. Returns models.ErrNotFound for unknown numbers.
func (m *ChannelManager) Acquire(ctx context.Context, number int) (*Supervisor, error) {
	channel, err := m.channels.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, models.ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[channel.ID]; ok {
		t.Stop()
		delete(m.timers, channel.ID)
	}

	if sup, ok := m.active[channel.ID]; ok {
		return sup, nil
	}

	sup := NewSupervisor(channel, m.deps)
	runCtx := m.ctx
	if runCtx == nil {
		runCtx = context.Background()
	}
	sup.Start(runCtx)
	m.active[channel.ID] = sup
	m.logger.Info("channel started", "channel", channel.Number, "name", channel.Name)
	return sup, nil
}

// Get returns the running supervisor for a channel id, if any.
func (m *ChannelManager) Get(channelID models.ULID) (*Supervisor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sup, ok := m.active[channelID]
	return sup, ok
}

// Active returns all running supervisors.
func (m *ChannelManager) Active() []*Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Supervisor, 0, len(m.active))
	for _, sup := range m.active {
		out = append(out, sup)
	}
	return out
}

// NotifyChannelEmpty starts the idle-grace countdown for a channel. The
// session manager calls this when the last session on a channel departs.
// AlwaysOn channels ignore it.
func (m *ChannelManager) NotifyChannelEmpty(channelID models.ULID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sup, ok := m.active[channelID]
	if !ok || sup.Channel().AlwaysOn {
		return
	}
	if t, ok := m.timers[channelID]; ok {
		t.Stop()
	}
	number := sup.Channel().Number
	var t *time.Timer
	t = time.AfterFunc(idleGrace, func() {
		m.teardown(channelID, number, t)
	})
	m.timers[channelID] = t
	m.logger.Debug("channel empty, grace started", "channel", number, "grace", idleGrace)
}

// teardown stops a channel whose idle grace elapsed. The timer identity
// check guards against a grace that was cancelled or restarted after
// the timer fired but before this goroutine took the lock: a client may
// have reacquired the channel in that window.
func (m *ChannelManager) teardown(channelID models.ULID, number int, t *time.Timer) {
	m.mu.Lock()
	if m.timers[channelID] != t {
		m.mu.Unlock()
		return
	}
	delete(m.timers, channelID)
	sup, ok := m.active[channelID]
	delete(m.active, channelID)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.logger.Info("channel stopped after idle grace", "channel", number)
	sup.Stop()
	sup.Broadcaster().Close()
}

// Shutdown stops every running supervisor.
func (m *ChannelManager) Shutdown() {
	m.mu.Lock()
	sups := make([]*Supervisor, 0, len(m.active))
	for _, sup := range m.active {
		sups = append(sups, sup)
	}
	m.active = make(map[models.ULID]*Supervisor)
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = make(map[models.ULID]*time.Timer)
	m.mu.Unlock()

	for _, sup := range sups {
		sup.Stop()
		sup.Broadcaster().Close()
	}
}
