package stream

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/database"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/playout"
	"github.com/fieldcast/fieldcast/internal/repository"
	"github.com/fieldcast/fieldcast/internal/resolver"
	"github.com/fieldcast/fieldcast/internal/watchdog"
)

func newTestManager(t *testing.T) (*ChannelManager, *models.Channel) {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)

	ch := &models.Channel{Number: 9, Name: "Idle Grace"}
	require.NoError(t, db.Create(ch).Error)

	m := NewChannelManager(repository.NewChannelRepository(db), SupervisorDeps{
		Queue:    playout.NewQueue(repository.NewPlayoutItemRepository(db), config.PlayoutConfig{}, nil),
		Registry: resolver.NewRegistry(config.ResolverConfig{}, nil),
		Watchdog: watchdog.New(config.WatchdogConfig{OutputTimeout: time.Hour, CheckInterval: time.Hour}, nil),
		Delivery: config.DeliveryConfig{ClientBufferMax: config.ByteSize(1024 * 1024)},
	})
	return m, ch
}

func (m *ChannelManager) graceTimer(channelID models.ULID) *time.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers[channelID]
}

func TestChannelManagerAcquireReusesSupervisor(t *testing.T) {
	m, ch := newTestManager(t)
	defer m.Shutdown()

	sup, err := m.Acquire(context.Background(), ch.Number)
	require.NoError(t, err)
	again, err := m.Acquire(context.Background(), ch.Number)
	require.NoError(t, err)
	assert.Same(t, sup, again)

	_, err = m.Acquire(context.Background(), 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// A client that tunes back in during the idle grace keeps its supervisor
// even when the grace timer has already fired and is waiting on the lock
// to tear the channel down.
func TestChannelManagerReacquireBeatsFiredGrace(t *testing.T) {
	m, ch := newTestManager(t)
	defer m.Shutdown()

	sup, err := m.Acquire(context.Background(), ch.Number)
	require.NoError(t, err)

	m.NotifyChannelEmpty(ch.ID)
	fired := m.graceTimer(ch.ID)
	require.NotNil(t, fired)

	again, err := m.Acquire(context.Background(), ch.Number)
	require.NoError(t, err)
	require.Same(t, sup, again)

	// The timer may fire before Acquire stops it; its teardown must then
	// find its registration gone and leave the channel alone.
	m.teardown(ch.ID, ch.Number, fired)

	got, ok := m.Get(ch.ID)
	require.True(t, ok, "reacquired channel must stay active")
	assert.Same(t, sup, got)

	_, err = sup.Broadcaster().Subscribe(uuid.New())
	assert.NoError(t, err, "broadcaster must remain open")
}

// A grace restarted by a later NotifyChannelEmpty supersedes the earlier
// timer; only the current registration may tear the channel down.
func TestChannelManagerRestartedGraceSupersedesOldTimer(t *testing.T) {
	m, ch := newTestManager(t)
	defer m.Shutdown()

	sup, err := m.Acquire(context.Background(), ch.Number)
	require.NoError(t, err)

	m.NotifyChannelEmpty(ch.ID)
	stale := m.graceTimer(ch.ID)
	m.NotifyChannelEmpty(ch.ID)
	current := m.graceTimer(ch.ID)
	require.NotSame(t, stale, current)

	m.teardown(ch.ID, ch.Number, stale)
	_, ok := m.Get(ch.ID)
	require.True(t, ok, "stale timer must not stop the channel")

	m.teardown(ch.ID, ch.Number, current)
	_, ok = m.Get(ch.ID)
	assert.False(t, ok)
	_, err = sup.Broadcaster().Subscribe(uuid.New())
	assert.Error(t, err, "teardown closes the broadcaster")
}
