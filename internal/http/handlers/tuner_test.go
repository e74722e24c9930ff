package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/database"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/repository"
)

func tunerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	return db
}

func testTunerConfig() config.TunerConfig {
	return config.TunerConfig{
		DeviceID:     "FC123456",
		FriendlyName: "fieldcast",
		TunerCount:   4,
	}
}

func TestTunerDiscover(t *testing.T) {
	db := tunerTestDB(t)
	h := NewTunerHandler(testTunerConfig(), repository.NewChannelRepository(db))

	router := chi.NewRouter()
	h.Register(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "http://media.local:5004/discover.json", nil))

	require.Equal(t, 200, rec.Code)
	var resp discoverResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FC123456", resp.DeviceID)
	assert.Equal(t, "fieldcast", resp.FriendlyName)
	assert.Equal(t, 4, resp.TunerCount)
	assert.Equal(t, "http://media.local:5004", resp.BaseURL)
	assert.Equal(t, "http://media.local:5004/lineup.json", resp.LineupURL)
}

func TestTunerDiscoverExplicitBaseURL(t *testing.T) {
	cfg := testTunerConfig()
	cfg.BaseURL = "http://10.0.0.2:5004"
	h := NewTunerHandler(cfg, repository.NewChannelRepository(tunerTestDB(t)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "http://other-host/discover.json", nil)
	h.Discover(rec, req)

	var resp discoverResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "http://10.0.0.2:5004", resp.BaseURL, "configured base wins over request host")
}

func TestTunerLineup(t *testing.T) {
	db := tunerTestDB(t)
	repo := repository.NewChannelRepository(db)
	require.NoError(t, repo.Create(context.Background(), &models.Channel{Number: 2, Name: "News"}))
	require.NoError(t, repo.Create(context.Background(), &models.Channel{Number: 5, Name: "Movies"}))

	h := NewTunerHandler(testTunerConfig(), repo)
	router := chi.NewRouter()
	h.Register(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "http://media.local:5004/lineup.json", nil))

	require.Equal(t, 200, rec.Code)
	var lineup []lineupEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lineup))
	require.Len(t, lineup, 2)
	assert.Equal(t, "2", lineup[0].GuideNumber)
	assert.Equal(t, "News", lineup[0].GuideName)
	assert.Equal(t, "http://media.local:5004/stream/2", lineup[0].URL)
}

func TestTunerLineupStatus(t *testing.T) {
	h := NewTunerHandler(testTunerConfig(), repository.NewChannelRepository(tunerTestDB(t)))

	rec := httptest.NewRecorder()
	h.LineupStatus(rec, httptest.NewRequest("GET", "/lineup_status.json", nil))

	var resp lineupStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.ScanInProgress)
	assert.Equal(t, 1, resp.ScanPossible)
	assert.Equal(t, []string{"Cable"}, resp.SourceList)
}
