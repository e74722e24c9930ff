package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/observability"
	"github.com/fieldcast/fieldcast/internal/playout"
	"github.com/fieldcast/fieldcast/internal/repository"
	"github.com/fieldcast/fieldcast/internal/resolver"
	"github.com/fieldcast/fieldcast/internal/transcoder"
	"github.com/fieldcast/fieldcast/internal/watchdog"
)

// ChannelState is the supervisor's current phase.
type ChannelState string

const (
	StateIdle      ChannelState = "idle"
	StateStarting  ChannelState = "starting"
	StatePlaying   ChannelState = "playing"
	StateBuffering ChannelState = "buffering"
	StateError     ChannelState = "error"
	StateEnded     ChannelState = "ended"
)

// Recovery policy.
const (
	backoffInitial       = 1 * time.Second
	backoffMax           = 60 * time.Second
	rateLimitedMultiple  = 5
	maxConsecutiveErrors = 10
	errorCooldown        = 2 * time.Minute

	// idlePoll is how often an empty channel rechecks its schedule.
	idlePoll = 15 * time.Second
)

// Supervisor drives one channel's continuous playout: it pulls the next
// entry from the queue, resolves and probes it, runs ffmpeg, and fans the
// output into the channel's broadcaster. Failures go through a
// classification-driven recovery policy, with slate segments on screen
// while the channel cannot play content.
type Supervisor struct {
	channel     *models.Channel
	queue       *playout.Queue
	registry    *resolver.Registry
	prober      *transcoder.Prober
	trans       *transcoder.Transcoder
	dog         *watchdog.Watchdog
	broadcaster *Broadcaster
	screens     *ScreenGenerator
	stats       repository.ChannelStatsRepository
	ffmpegCfg   config.FFmpegConfig
	resolverCfg config.ResolverConfig
	deliveryCfg config.DeliveryConfig
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	state    ChannelState
	lastErr  error
	current  *transcoder.Stream
	cancel   context.CancelFunc
	running  bool
	done     chan struct{}
	restarts atomic.Int64
}

// SupervisorDeps carries the collaborators a supervisor needs.
type SupervisorDeps struct {
	Queue       *playout.Queue
	Registry    *resolver.Registry
	Prober      *transcoder.Prober
	Transcoder  *transcoder.Transcoder
	Watchdog    *watchdog.Watchdog
	Screens     *ScreenGenerator
	Stats       repository.ChannelStatsRepository
	FFmpeg      config.FFmpegConfig
	Resolver    config.ResolverConfig
	Delivery    config.DeliveryConfig
	Logger      *slog.Logger
	Broadcaster *Broadcaster
}

// NewSupervisor creates a supervisor for one channel. The broadcaster in
// deps may be nil, in which case a fresh one is created.
func NewSupervisor(channel *models.Channel, deps SupervisorDeps) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := deps.Broadcaster
	if b == nil {
		b = NewBroadcaster(deps.Delivery.ClientBufferMax.Int64())
	}
	return &Supervisor{
		channel:     channel,
		queue:       deps.Queue,
		registry:    deps.Registry,
		prober:      deps.Prober,
		trans:       deps.Transcoder,
		dog:         deps.Watchdog,
		broadcaster: b,
		screens:     deps.Screens,
		stats:       deps.Stats,
		ffmpegCfg:   deps.FFmpeg,
		resolverCfg: deps.Resolver,
		deliveryCfg: deps.Delivery,
		logger:      observability.WithChannel(observability.WithComponent(logger, "supervisor"), channel.Number),
		now:         time.Now,
		state:       StateIdle,
	}
}

// Broadcaster returns the channel's fan-out buffer.
func (s *Supervisor) Broadcaster() *Broadcaster { return s.broadcaster }

// Channel returns the channel this supervisor drives.
func (s *Supervisor) Channel() *models.Channel { return s.channel }

// State returns the current phase and the last playback error, if any.
func (s *Supervisor) State() (ChannelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// Restarts returns how many times playback restarted after a failure.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// PipelinePID returns the pid of the running ffmpeg process, or 0.
func (s *Supervisor) PipelinePID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.current.PID()
}

func (s *Supervisor) setState(state ChannelState, err error) {
	s.mu.Lock()
	s.state = state
	s.lastErr = err
	s.mu.Unlock()
}

// Start launches the playout loop. It is a no-op if already running.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(ctx)
	}()
}

// Stop tears the playout loop down and waits for it to exit. The
// broadcaster stays open so it can be reused on a later Start.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// run is the supervisor main loop: fetch the current entry, play it, and
// apply the recovery policy when playback fails.
func (s *Supervisor) run(ctx context.Context) {
	defer s.setState(StateIdle, nil)
	defer s.dog.Unregister(s.channel.ID)

	backoff := backoffInitial
	consecutive := 0
	forceResolve := false

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateStarting, nil)
		entry, err := s.queue.Current(ctx, s.channel, s.now())
		if err != nil {
			s.logger.Error("fetching playout entry", "error", err)
			if !s.sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}
		if entry == nil {
			s.setState(StateEnded, nil)
			if !s.waitForSchedule(ctx) {
				return
			}
			continue
		}

		err = s.playEntry(ctx, entry, forceResolve)
		forceResolve = false
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			backoff = backoffInitial
			consecutive = 0
			if aerr := s.queue.Advance(ctx, entry); aerr != nil {
				s.logger.Error("advancing queue", "error", aerr)
			}
			s.addStats(ctx, models.ChannelStats{ItemsPlayed: 1})
			continue
		}

		consecutive++
		s.restarts.Add(1)
		s.addStats(ctx, models.ChannelStats{Restarts: 1})
		s.setState(StateError, err)
		s.logger.Warn("playback failed",
			"error", err,
			"kind", resolver.KindOf(err),
			"consecutive", consecutive)

		if consecutive >= maxConsecutiveErrors {
			s.logger.Error("too many consecutive failures, cooling down",
				"failures", consecutive, "cooldown", errorCooldown)
			s.showScreen(ctx, ScreenMessage{
				Title:       "Channel Unavailable",
				Subtitle:    "Playback is failing repeatedly, retrying shortly",
				ChannelName: s.channel.Name,
				ErrorCode:   string(resolver.KindOf(err)),
			}, errorCooldown)
			backoff = backoffInitial
			consecutive = 0
			continue
		}

		if !resolver.IsRetryable(err) {
			// Unplayable item: skip it rather than loop on it.
			s.logger.Warn("skipping unplayable item", "item", entry.Item.ID)
			if aerr := s.queue.Advance(ctx, entry); aerr != nil {
				s.logger.Error("advancing past unplayable item", "error", aerr)
			}
			continue
		}

		// A stale signed URL errored mid-pipeline; the next attempt must
		// re-resolve instead of replaying the cached URL.
		if resolver.WantsForceRefresh(err) {
			forceResolve = true
		}

		wait := backoff
		if resolver.KindOf(err) == resolver.KindRateLimited {
			wait = backoff * rateLimitedMultiple
			if wait > backoffMax {
				wait = backoffMax
			}
		}
		s.showScreen(ctx, ScreenMessage{
			Title:       "One Moment",
			Subtitle:    "Reconnecting to the source",
			ChannelName: s.channel.Name,
			ErrorCode:   string(resolver.KindOf(err)),
		}, wait)

		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// waitForSchedule idles an empty channel until an item appears or the
// context ends. Connected clients keep receiving an off-air slate, or
// null-packet keepalive, so tuners do not drop the stream while the
// channel has nothing to play. Returns false when the context ended.
func (s *Supervisor) waitForSchedule(ctx context.Context) bool {
	s.logger.Info("schedule empty, waiting for items")
	for {
		s.showScreen(ctx, ScreenMessage{
			Title:       "Off Air",
			Subtitle:    "No program is scheduled",
			ChannelName: s.channel.Name,
		}, idlePoll)
		if ctx.Err() != nil {
			return false
		}
		entry, err := s.queue.Current(ctx, s.channel, s.now())
		if err == nil && entry != nil {
			return true
		}
	}
}

// playEntry runs one item from resolve through process exit. force
// bypasses the resolution cache, used after the previous attempt died on
// a stale URL.
func (s *Supervisor) playEntry(ctx context.Context, entry *playout.Entry, force bool) error {
	ref := &entry.Item.MediaRef
	threshold := s.resolverCfg.ExpiryThreshold
	if threshold <= 0 {
		threshold = resolver.DefaultExpiryThreshold
	}

	var resolved *resolver.ResolvedURL
	var err error
	if force {
		s.logger.Info("forcing re-resolution after stale URL failure")
		resolved, err = s.registry.Resolve(ctx, ref, true)
	} else {
		resolved, err = s.registry.RefreshIfExpiring(ctx, ref, threshold)
	}
	if err != nil {
		s.addStats(ctx, models.ChannelStats{ResolveErrors: 1})
		if !force && resolver.WantsForceRefresh(err) {
			s.logger.Info("forcing re-resolution", "kind", resolver.KindOf(err))
			resolved, err = s.registry.Resolve(ctx, ref, true)
		}
		if err != nil {
			return fmt.Errorf("resolving %q: %w", ref.Title, err)
		}
	}

	info, err := s.prober.Probe(ctx, resolved)
	if err != nil {
		return fmt.Errorf("probing %q: %w", ref.Title, err)
	}

	seek := transcoder.ClampSeek(entry.Offset, info.Duration)
	args := transcoder.BuildCommand(resolved, info, transcoder.Options{
		HWAccel:       s.ffmpegCfg.HWAccel,
		Seek:          seek,
		Realtime:      true,
		TargetBitrate: s.deliveryCfg.TargetBitrate.Int64(),
	})

	stream, err := s.trans.Start(args)
	if err != nil {
		return fmt.Errorf("starting pipeline for %q: %w", ref.Title, err)
	}

	s.logger.Info("playback started",
		"item", entry.Item.ID,
		"title", ref.Title,
		"filler", entry.Filler,
		"seek", seek,
		"pid", stream.PID())

	s.mu.Lock()
	s.current = stream
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	s.dog.Register(s.channel.ID, stream, func(channelID models.ULID, silentFor time.Duration) {
		s.logger.Warn("watchdog killed stalled pipeline", "silent_for", silentFor)
		s.addStats(context.Background(), models.ChannelStats{WatchdogKills: 1})
	})
	defer s.dog.Unregister(s.channel.ID)

	err = s.pump(ctx, stream)

	now := s.now()
	s.addStats(context.Background(), models.ChannelStats{
		BytesOut:     stream.BytesOut(),
		LastPlayedAt: &now,
	})
	return err
}

// pump moves chunks from the pipeline into the broadcaster, keeping
// clients alive with null packets when the pipeline goes quiet. Only
// whole TS packets are written; the remainder carries over to the next
// chunk so content/slate switches always land on packet boundaries.
func (s *Supervisor) pump(ctx context.Context, stream *transcoder.Stream) error {
	keepalive := s.deliveryCfg.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = 5 * time.Second
	}
	timer := time.NewTimer(keepalive)
	defer timer.Stop()

	var rest []byte
	var cc byte
	playing := false

	for {
		select {
		case <-ctx.Done():
			stream.Stop()
			for range stream.Chunks() {
			}
			return stream.Wait()

		case chunk, ok := <-stream.Chunks():
			if !ok {
				if len(rest) > 0 {
					s.logger.Debug("discarding partial trailing packet", "bytes", len(rest))
				}
				return stream.Wait()
			}
			if !playing {
				playing = true
				s.setState(StatePlaying, nil)
			}

			data := chunk
			if len(rest) > 0 {
				data = append(rest, chunk...)
			}
			aligned, remainder := AlignToPackets(data)
			rest = remainder
			if len(aligned) > 0 {
				s.broadcaster.Write(aligned)
				s.dog.ReportOutput(s.channel.ID, len(aligned))
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(keepalive)

		case <-timer.C:
			if playing {
				s.setState(StateBuffering, nil)
			}
			burst, next := KeepaliveBurst(cc)
			cc = next
			s.broadcaster.Write(burst)
			timer.Reset(keepalive)
		}
	}
}

// showScreen renders a slate and loops it into the broadcaster for the
// given duration. Generation failures degrade to null-packet keepalive so
// clients stay connected either way.
func (s *Supervisor) showScreen(ctx context.Context, msg ScreenMessage, d time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	if s.screens != nil {
		if segment, err := s.screens.Generate(ctx, msg); err == nil {
			streamer := NewScreenStreamer(segment, func(b []byte) {
				s.broadcaster.Write(b)
			})
			_ = streamer.Run(ctx)
			return
		} else if ctx.Err() == nil {
			s.logger.Warn("error screen generation failed", "error", err)
		}
	}

	keepalive := s.deliveryCfg.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = 5 * time.Second
	}
	var cc byte
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			burst, next := KeepaliveBurst(cc)
			cc = next
			s.broadcaster.Write(burst)
		}
	}
}

func (s *Supervisor) sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Supervisor) addStats(ctx context.Context, delta models.ChannelStats) {
	if s.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.stats.Add(ctx, s.channel.ID, delta); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("recording channel stats", "error", err)
	}
}
