package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"

	"github.com/fieldcast/fieldcast/internal/version"
)

// HealthHandler serves the service health endpoint.
type HealthHandler struct {
	startTime time.Time
	db        *gorm.DB
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{startTime: time.Now(), db: db}
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status     string  `json:"status" doc:"Overall service status"`
	Version    string  `json:"version" doc:"Build version"`
	UptimeSecs int64   `json:"uptime_seconds" doc:"Seconds since the service started"`
	Database   string  `json:"database" doc:"Database connectivity: ok or error"`
	Goroutines int     `json:"goroutines" doc:"Number of running goroutines"`
	MemoryUsed uint64  `json:"memory_used_bytes" doc:"System memory in use"`
	MemoryPct  float64 `json:"memory_used_percent" doc:"System memory usage percent"`
	Load1      float64 `json:"load_1m" doc:"One minute load average"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth reports service status and basic system metrics.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := HealthResponse{
		Status:     "ok",
		Version:    version.Short(),
		UptimeSecs: int64(time.Since(h.startTime).Seconds()),
		Database:   "ok",
		Goroutines: runtime.NumGoroutine(),
	}

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			resp.Database = "error"
			resp.Status = "degraded"
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryUsed = vm.Used
		resp.MemoryPct = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.Load1 = avg.Load1
	}

	return &HealthOutput{Body: resp}, nil
}
