package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/observability"
	"github.com/fieldcast/fieldcast/internal/playout"
	"github.com/fieldcast/fieldcast/internal/repository"
	"github.com/fieldcast/fieldcast/pkg/xmltv"
)

// GuideHandler serves the XMLTV programme guide built from the playout
// schedules.
type GuideHandler struct {
	channels repository.ChannelRepository
	queue    *playout.Queue
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewGuideHandler creates the guide endpoint handler.
func NewGuideHandler(channels repository.ChannelRepository, queue *playout.Queue, cfg config.PlayoutConfig, logger *slog.Logger) *GuideHandler {
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.GuideWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &GuideHandler{
		channels: channels,
		queue:    queue,
		window:   window,
		logger:   observability.WithComponent(logger, "guide"),
		now:      time.Now,
	}
}

// Register mounts the guide route.
func (h *GuideHandler) Register(r chi.Router) {
	r.Get("/epg.xml", h.Serve)
}

// Serve writes the guide for the rolling window. Filler items are folded
// into the surrounding schedule rather than listed.
func (h *GuideHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channels, err := h.channels.List(ctx)
	if err != nil {
		http.Error(w, "listing channels", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	writer := xmltv.NewWriter(w, "fieldcast")

	for _, ch := range channels {
		if err := writer.WriteChannel(&xmltv.Channel{
			ID:          guideChannelID(ch),
			DisplayName: ch.Name,
		}); err != nil {
			h.logger.Error("writing guide channel", "error", err)
			return
		}
	}

	from := h.now()
	to := from.Add(h.window)
	for _, ch := range channels {
		items, err := h.queue.Window(ctx, ch.ID, from, to)
		if err != nil {
			h.logger.Error("reading guide window", "channel", ch.Number, "error", err)
			return
		}
		for _, item := range items {
			if item.IsFiller {
				continue
			}
			if err := writer.WriteProgramme(&xmltv.Programme{
				Start:   item.ScheduledStart,
				Stop:    item.End(),
				Channel: guideChannelID(ch),
				Title:   programmeTitle(item),
			}); err != nil {
				h.logger.Error("writing guide programme", "error", err)
				return
			}
		}
	}
	_ = writer.WriteFooter()
}

func guideChannelID(ch *models.Channel) string {
	return fmt.Sprintf("fieldcast.%d", ch.Number)
}

func programmeTitle(item *models.PlayoutItem) string {
	if item.MediaRef.Title != "" {
		return item.MediaRef.Title
	}
	return "Scheduled Programme"
}
