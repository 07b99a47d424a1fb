package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"kptv-catchup/work/catalog"
	"kptv-catchup/work/config"
	"kptv-catchup/work/database"
	"kptv-catchup/work/session"
	"kptv-catchup/work/types"
)

func newAdminRouter(t *testing.T, token string) *mux.Router {
	t.Helper()
	return newAdminRouterWithDB(t, token, config.Default(), nil)
}

func newAdminRouterWithDB(t *testing.T, token string, cfg *config.Config, db *database.DB) *mux.Router {
	t.Helper()

	if token != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
		require.NoError(t, err)
		cfg.AdminTokenHash = string(hash)
	}

	store := catalog.New(cfg)
	store.Replace(&catalog.Snapshot{
		Channels: []types.Channel{{UniqueID: 1, Name: "One", StreamURL: "http://example.com/one.ts"}},
		Epgs: []types.ChannelEpg{{
			ID:      "one",
			Entries: []types.EpgEntry{{StartTime: 1, EndTime: 2, Title: "A"}, {StartTime: 2, EndTime: 3, Title: "B"}},
		}},
	})

	router := mux.NewRouter()
	setupAdminRoutes(router, &adminServer{
		cfg:      cfg,
		store:    store,
		sessions: session.NewManager(cfg, store, nil),
		db:       db,
	})
	return router
}

func drainReloads() {
	for {
		select {
		case <-reloadChan:
		default:
			return
		}
	}
}

func TestHandleGetStats(t *testing.T) {
	router := newAdminRouter(t, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalChannels)
	assert.Equal(t, 1, stats.GuideChannels)
	assert.Equal(t, 2, stats.Programmes)
	assert.Zero(t, stats.ActiveSessions)
	assert.NotEmpty(t, stats.MemoryUsage)
}

func TestHandleGetConfigHidesSecrets(t *testing.T) {
	router := newAdminRouter(t, "secret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestHandleImportsWithoutDatabase(t *testing.T) {
	router := newAdminRouter(t, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleReload(t *testing.T) {
	drainReloads()
	defer drainReloads()

	t.Run("disabled without hash", func(t *testing.T) {
		router := newAdminRouter(t, "")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reload", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	router := newAdminRouter(t, "secret")

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/reload", nil)
		req.Header.Set("X-Admin-Token", "guess")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, reloadChan)
	})

	t.Run("bearer token queues reload", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/reload", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Len(t, reloadChan, 1)

		// a second request while one is queued does not block
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Len(t, reloadChan, 1)
	})
}

func openAdminDB(t *testing.T) (*config.Config, *database.DB) {
	t.Helper()

	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "catchup.db")
	db, err := database.Open(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return cfg, db
}

func adminPost(router *mux.Router, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleVacuum(t *testing.T) {
	cfg, db := openAdminDB(t)
	router := newAdminRouterWithDB(t, "secret", cfg, db)

	assert.Equal(t, http.StatusUnauthorized, adminPost(router, "/api/database/vacuum", "").Code)
	assert.Equal(t, http.StatusUnauthorized, adminPost(router, "/api/database/vacuum", "guess").Code)

	rec := adminPost(router, "/api/database/vacuum", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "success")
}

func TestHandleBackup(t *testing.T) {
	cfg, db := openAdminDB(t)
	router := newAdminRouterWithDB(t, "secret", cfg, db)

	assert.Equal(t, http.StatusUnauthorized, adminPost(router, "/api/database/backup", "guess").Code)

	rec := adminPost(router, "/api/database/backup", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, filepath.Join(filepath.Dir(cfg.DatabasePath), "backups"), filepath.Dir(body["path"]))

	info, err := os.Stat(body["path"])
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestDatabaseEndpointsRequireConfiguration(t *testing.T) {
	t.Run("disabled without hash", func(t *testing.T) {
		cfg, db := openAdminDB(t)
		router := newAdminRouterWithDB(t, "", cfg, db)
		assert.Equal(t, http.StatusForbidden, adminPost(router, "/api/database/vacuum", "secret").Code)
		assert.Equal(t, http.StatusForbidden, adminPost(router, "/api/database/backup", "secret").Code)
	})

	t.Run("unavailable without database", func(t *testing.T) {
		router := newAdminRouter(t, "secret")
		assert.Equal(t, http.StatusServiceUnavailable, adminPost(router, "/api/database/vacuum", "secret").Code)
		assert.Equal(t, http.StatusServiceUnavailable, adminPost(router, "/api/database/backup", "secret").Code)
	})
}

func TestBackupPath(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, filepath.Join("/settings", "backups", "catchup-20240309-140507.db"),
		backupPath("/settings/catchup.db", now))
}

func TestLogBufferKeepsNewestEntries(t *testing.T) {
	logMu.Lock()
	logEntries = logEntries[:0]
	logMu.Unlock()

	for i := 0; i < 1005; i++ {
		addLogEntry("info", "line")
	}

	logMu.Lock()
	defer logMu.Unlock()
	assert.Len(t, logEntries, 1000)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45e9))
	assert.Equal(t, "2h 5m", formatDuration(125*60e9))
	assert.Equal(t, "1d 2h", formatDuration(26*3600e9))
}
