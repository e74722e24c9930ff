// Package handlers contains the HTTP request handlers.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/observability"
	"github.com/fieldcast/fieldcast/internal/session"
	"github.com/fieldcast/fieldcast/internal/stream"
)

// StreamHandler serves the raw MPEG-TS channel endpoint.
type StreamHandler struct {
	channels *stream.ChannelManager
	sessions *session.Manager
	delivery config.DeliveryConfig
	logger   *slog.Logger
}

// NewStreamHandler creates the stream endpoint handler.
func NewStreamHandler(channels *stream.ChannelManager, sessions *session.Manager, delivery config.DeliveryConfig, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		channels: channels,
		sessions: sessions,
		delivery: delivery,
		logger:   observability.WithComponent(logger, "stream-handler"),
	}
}

// Register mounts the stream route on the raw router. The endpoint stays
// off the Huma API: its response is an unbounded TS byte stream.
func (h *StreamHandler) Register(r chi.Router) {
	r.Get("/stream/{channelNumber}", h.Serve)
}

// Serve streams a channel to one client until it disconnects.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "channelNumber"))
	if err != nil || number <= 0 {
		http.Error(w, "invalid channel number", http.StatusBadRequest)
		return
	}

	sup, err := h.channels.Acquire(r.Context(), number)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("acquiring channel", "channel", number, "error", err)
		http.Error(w, "channel unavailable", http.StatusInternalServerError)
		return
	}

	clientID := clientAddr(r)
	snap, err := h.sessions.Create(sup.Channel().ID, number, clientID)
	var capErr *session.CapacityError
	if errors.As(err, &capErr) {
		http.Error(w, capErr.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, "session rejected", http.StatusInternalServerError)
		return
	}

	sub, err := sup.Broadcaster().Subscribe(snap.ID)
	if err != nil {
		h.sessions.End(snap.ID, "broadcaster closed")
		http.Error(w, "channel unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sup.Broadcaster().Unsubscribe(snap.ID)
	defer h.sessions.End(snap.ID, "disconnect")

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	throttle := stream.NewThrottle(h.delivery)
	minFlush := int(h.delivery.MinFlushSize.Int64())

	ctx := r.Context()
	pending := 0
	for {
		chunk, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			h.sessions.End(snap.ID, "channel closed")
			return
		}
		if err != nil {
			return
		}

		if err := throttle.Pace(ctx, len(chunk)); err != nil {
			return
		}
		if _, err := w.Write(chunk); err != nil {
			h.sessions.RecordError(snap.ID, "write", err.Error())
			return
		}
		h.sessions.RecordData(snap.ID, len(chunk))

		pending += len(chunk)
		if flusher != nil && pending >= minFlush {
			flusher.Flush()
			pending = 0
		}
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
