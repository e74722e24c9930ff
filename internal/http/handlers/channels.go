package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/repository"
	"github.com/fieldcast/fieldcast/internal/session"
	"github.com/fieldcast/fieldcast/internal/stream"
)

// ChannelsHandler serves the channel listing API.
type ChannelsHandler struct {
	channels repository.ChannelRepository
	stats    repository.ChannelStatsRepository
	manager  *stream.ChannelManager
	sessions *session.Manager
}

// NewChannelsHandler creates the channels API handler.
func NewChannelsHandler(channels repository.ChannelRepository, stats repository.ChannelStatsRepository, manager *stream.ChannelManager, sessions *session.Manager) *ChannelsHandler {
	return &ChannelsHandler{channels: channels, stats: stats, manager: manager, sessions: sessions}
}

// ChannelSummary is one channel in the listing.
type ChannelSummary struct {
	ID          models.ULID `json:"id"`
	Number      int         `json:"number"`
	Name        string      `json:"name"`
	AlwaysOn    bool        `json:"always_on"`
	State       string      `json:"state" doc:"Supervisor state, idle when not running"`
	LastError   string      `json:"last_error,omitempty"`
	Subscribers int         `json:"subscribers"`
	Restarts    int64       `json:"restarts" doc:"Restarts since the supervisor started"`

	BytesOut      int64      `json:"bytes_out"`
	ItemsPlayed   int64      `json:"items_played"`
	WatchdogKills int64      `json:"watchdog_kills"`
	ResolveErrors int64      `json:"resolve_errors"`
	LastPlayedAt  *time.Time `json:"last_played_at,omitempty"`
}

// ChannelsOutput wraps the channel listing for Huma.
type ChannelsOutput struct {
	Body struct {
		Channels []ChannelSummary `json:"channels"`
	}
}

// Register registers the channel routes.
func (h *ChannelsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List channels",
		Tags:        []string{"Channels"},
	}, h.List)
}

// List returns every channel with live supervisor state and durable
// playout counters.
func (h *ChannelsHandler) List(ctx context.Context, _ *struct{}) (*ChannelsOutput, error) {
	channels, err := h.channels.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing channels", err)
	}

	out := &ChannelsOutput{}
	out.Body.Channels = make([]ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		summary := ChannelSummary{
			ID:          ch.ID,
			Number:      ch.Number,
			Name:        ch.Name,
			AlwaysOn:    ch.AlwaysOn,
			State:       string(stream.StateIdle),
			Subscribers: h.sessions.Count(ch.ID),
		}

		if sup, ok := h.manager.Get(ch.ID); ok {
			state, lastErr := sup.State()
			summary.State = string(state)
			if lastErr != nil {
				summary.LastError = lastErr.Error()
			}
			summary.Restarts = sup.Restarts()
		}

		if stats, err := h.stats.GetByChannel(ctx, ch.ID); err == nil && stats != nil {
			summary.BytesOut = stats.BytesOut
			summary.ItemsPlayed = stats.ItemsPlayed
			summary.WatchdogKills = stats.WatchdogKills
			summary.ResolveErrors = stats.ResolveErrors
			summary.LastPlayedAt = stats.LastPlayedAt
		}

		out.Body.Channels = append(out.Body.Channels, summary)
	}
	return out, nil
}
