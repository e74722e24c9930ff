package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fieldcast/fieldcast/internal/resolver"
	"github.com/fieldcast/fieldcast/internal/session"
	"github.com/fieldcast/fieldcast/internal/stream"
	"github.com/fieldcast/fieldcast/internal/transcoder"
	"github.com/fieldcast/fieldcast/internal/watchdog"
)

// StatsHandler serves aggregate service statistics and the resolver
// cache flush endpoint.
type StatsHandler struct {
	sessions *session.Manager
	manager  *stream.ChannelManager
	registry *resolver.Registry
	dog      *watchdog.Watchdog
}

// NewStatsHandler creates the stats API handler.
func NewStatsHandler(sessions *session.Manager, manager *stream.ChannelManager, registry *resolver.Registry, dog *watchdog.Watchdog) *StatsHandler {
	return &StatsHandler{sessions: sessions, manager: manager, registry: registry, dog: dog}
}

// PipelineStats is one running transcoder process.
type PipelineStats struct {
	ChannelNumber int     `json:"channel_number"`
	State         string  `json:"state"`
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	RSSBytes      uint64  `json:"rss_bytes"`
}

// StatsResponse is the aggregate stats payload.
type StatsResponse struct {
	ActiveChannels    int             `json:"active_channels"`
	ActiveSessions    int             `json:"active_sessions"`
	SessionsCreated   int64           `json:"sessions_created"`
	SessionsEnded     int64           `json:"sessions_ended"`
	WatchdogKills     int64           `json:"watchdog_kills"`
	ResolverCacheSize int             `json:"resolver_cache_size"`
	Pipelines         []PipelineStats `json:"pipelines"`
}

// StatsOutput wraps the stats payload for Huma.
type StatsOutput struct {
	Body StatsResponse
}

// CacheClearOutput reports a resolver cache flush.
type CacheClearOutput struct {
	Body struct {
		Cleared int `json:"cleared" doc:"Number of cache entries removed"`
	}
}

// Register registers the stats and cache routes.
func (h *StatsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStats",
		Method:      "GET",
		Path:        "/api/v1/stats",
		Summary:     "Service statistics",
		Tags:        []string{"System"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "clearResolverCache",
		Method:      "DELETE",
		Path:        "/api/v1/resolver/cache",
		Summary:     "Flush the resolved URL cache",
		Description: "Forces fresh resolution on the next playback of every item.",
		Tags:        []string{"System"},
	}, h.ClearCache)
}

// Get returns aggregate counters plus a resource snapshot of each
// running pipeline.
func (h *StatsHandler) Get(_ context.Context, _ *struct{}) (*StatsOutput, error) {
	created, ended, active := h.sessions.Totals()
	resp := StatsResponse{
		ActiveSessions:    active,
		SessionsCreated:   created,
		SessionsEnded:     ended,
		WatchdogKills:     h.dog.Kills(),
		ResolverCacheSize: h.registry.CacheSize(),
		Pipelines:         []PipelineStats{},
	}

	for _, sup := range h.manager.Active() {
		resp.ActiveChannels++
		state, _ := sup.State()
		ps := PipelineStats{
			ChannelNumber: sup.Channel().Number,
			State:         string(state),
		}
		if pid := sup.PipelinePID(); pid > 0 {
			ps.PID = pid
			if snap, err := transcoder.Snapshot(pid); err == nil {
				ps.CPUPercent = snap.CPUPercent
				ps.RSSBytes = snap.RSSBytes
			}
		}
		resp.Pipelines = append(resp.Pipelines, ps)
	}

	return &StatsOutput{Body: resp}, nil
}

// ClearCache flushes the resolver cache.
func (h *StatsHandler) ClearCache(_ context.Context, _ *struct{}) (*CacheClearOutput, error) {
	out := &CacheClearOutput{}
	out.Body.Cleared = h.registry.CacheSize()
	h.registry.Clear()
	return out, nil
}
