package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/repository"
	"github.com/fieldcast/fieldcast/internal/version"
)

// TunerHandler emulates an HDHomeRun network tuner so Plex, Jellyfin, and
// Emby can add fieldcast as a live-TV source.
type TunerHandler struct {
	cfg      config.TunerConfig
	channels repository.ChannelRepository
}

// NewTunerHandler creates the tuner discovery handler.
func NewTunerHandler(cfg config.TunerConfig, channels repository.ChannelRepository) *TunerHandler {
	return &TunerHandler{cfg: cfg, channels: channels}
}

// Register mounts the HDHomeRun discovery routes.
func (h *TunerHandler) Register(r chi.Router) {
	r.Get("/discover.json", h.Discover)
	r.Get("/lineup.json", h.Lineup)
	r.Get("/lineup_status.json", h.LineupStatus)
}

type discoverResponse struct {
	FriendlyName    string `json:"FriendlyName"`
	Manufacturer    string `json:"Manufacturer"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

type lineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

type lineupStatusResponse struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
}

// Discover serves the device description.
func (h *TunerHandler) Discover(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL(r)
	writeJSON(w, discoverResponse{
		FriendlyName:    h.cfg.FriendlyName,
		Manufacturer:    "fieldcast",
		ModelNumber:     "HDTC-2US",
		FirmwareName:    "hdhomeruntc_atsc",
		FirmwareVersion: version.Short(),
		DeviceID:        h.cfg.DeviceID,
		DeviceAuth:      "fieldcast",
		BaseURL:         base,
		LineupURL:       base + "/lineup.json",
		TunerCount:      h.cfg.TunerCount,
	})
}

// Lineup serves the channel list.
func (h *TunerHandler) Lineup(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.List(r.Context())
	if err != nil {
		http.Error(w, "listing channels", http.StatusInternalServerError)
		return
	}

	base := h.baseURL(r)
	lineup := make([]lineupEntry, 0, len(channels))
	for _, ch := range channels {
		lineup = append(lineup, lineupEntry{
			GuideNumber: fmt.Sprintf("%d", ch.Number),
			GuideName:   ch.Name,
			URL:         fmt.Sprintf("%s/stream/%d", base, ch.Number),
		})
	}
	writeJSON(w, lineup)
}

// LineupStatus reports a fixed not-scanning state; the lineup is driven
// by the channel table, never by a scan.
func (h *TunerHandler) LineupStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, lineupStatusResponse{
		ScanPossible: 1,
		Source:       "Cable",
		SourceList:   []string{"Cable"},
	})
}

func (h *TunerHandler) baseURL(r *http.Request) string {
	if h.cfg.BaseURL != "" {
		return h.cfg.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
