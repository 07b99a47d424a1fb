package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"kptv-catchup/work/catalog"
	"kptv-catchup/work/config"
	"kptv-catchup/work/database"
	"kptv-catchup/work/importer"
	"kptv-catchup/work/middleware"
	"kptv-catchup/work/session"
	"kptv-catchup/work/utils"
)

// StatsResponse is the operational summary served at /api/stats.
type StatsResponse struct {
	CatalogVersion  uint64                 `json:"catalogVersion"`
	CatalogLoadedAt string                 `json:"catalogLoadedAt"`
	TotalChannels   int                    `json:"totalChannels"`
	TotalGroups     int                    `json:"totalGroups"`
	GuideChannels   int                    `json:"guideChannels"`
	Programmes      int                    `json:"programmes"`
	ActiveSessions  int                    `json:"activeSessions"`
	LastImport      string                 `json:"lastImport"`
	LastImportError string                 `json:"lastImportError,omitempty"`
	Uptime          string                 `json:"uptime"`
	MemoryUsage     string                 `json:"memoryUsage"`
	WorkerThreads   int                    `json:"workerThreads"`
	Database        map[string]interface{} `json:"database,omitempty"`
}

// LogEntry is one line of the admin log buffer.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// adminServer carries what the admin endpoints read. db may be nil when the
// database could not be opened.
type adminServer struct {
	cfg      *config.Config
	store    *catalog.Store
	importer *importer.Importer
	sessions *session.Manager
	db       *database.DB
}

var (
	adminStartTime = time.Now()

	// logEntries keeps the last 1000 admin log lines.
	logMu      sync.Mutex
	logEntries = make([]LogEntry, 0, 1000)

	// reloadChan asks the main loop for a catalog re-import.
	reloadChan = make(chan bool, 1)
)

// setupAdminRoutes registers the admin API.
//
// Parameters:
//   - router: configured mux router for route registration
//   - admin: components the admin API reports on
func setupAdminRoutes(router *mux.Router, admin *adminServer) {
	router.HandleFunc("/api/stats", corsMiddleware(middleware.GzipMiddleware(admin.handleGetStats))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/config", corsMiddleware(middleware.GzipMiddleware(admin.handleGetConfig))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/imports", corsMiddleware(middleware.GzipMiddleware(admin.handleGetImports))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/streamtypes", corsMiddleware(middleware.GzipMiddleware(admin.handleGetStreamTypes))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(middleware.GzipMiddleware(handleGetLogs))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(handleClearLogs)).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/reload", corsMiddleware(admin.handleReload)).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/database/vacuum", corsMiddleware(admin.handleVacuum)).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/database/backup", corsMiddleware(admin.handleBackup)).Methods("POST", "OPTIONS")

	addLogEntry("info", "Admin interface initialized")
}

// corsMiddleware adds CORS headers and answers preflight requests.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addLogEntry("info", fmt.Sprintf("Request: %s %s", r.Method, r.URL.Path))

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (a *adminServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snap := a.store.Snapshot()
	programmes := 0
	for i := range snap.Epgs {
		programmes += len(snap.Epgs[i].Entries)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := StatsResponse{
		CatalogVersion: snap.Version,
		TotalChannels:  len(snap.Channels),
		TotalGroups:    len(snap.Groups),
		GuideChannels:  len(snap.Epgs),
		Programmes:     programmes,
		ActiveSessions: a.sessions.Count(),
		Uptime:         formatDuration(time.Since(adminStartTime)),
		MemoryUsage:    utils.FormatBytes(int64(m.Alloc)),
		WorkerThreads:  a.cfg.WorkerThreads,
	}
	if !snap.LoadedAt.IsZero() {
		stats.CatalogLoadedAt = snap.LoadedAt.Format(time.RFC3339)
	}

	if a.importer != nil {
		last, err := a.importer.LastImport()
		if !last.IsZero() {
			stats.LastImport = last.Format(time.RFC3339)
		}
		if err != nil {
			stats.LastImportError = err.Error()
		}
	}

	if a.db != nil {
		if dbStats, err := a.db.GetStats(); err == nil {
			stats.Database = dbStats
		} else {
			addLogEntry("error", fmt.Sprintf("Failed to read database stats: %v", err))
		}
	}

	if err := json.NewEncoder(w).Encode(stats); err != nil {
		addLogEntry("error", fmt.Sprintf("Failed to encode stats: %v", err))
	}
}

// handleGetConfig returns the running configuration without the admin token
// hash; playlist and guide locations are obfuscated when configured.
func (a *adminServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	safe := *a.cfg
	safe.AdminTokenHash = ""
	safe.M3UPath = utils.LogURL(a.cfg, safe.M3UPath)
	safe.EpgPath = utils.LogURL(a.cfg, safe.EpgPath)

	json.NewEncoder(w).Encode(safe)
}

func (a *adminServer) handleGetImports(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if a.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	imports, err := a.db.RecentImports(20)
	if err != nil {
		addLogEntry("error", fmt.Sprintf("Failed to load imports: %v", err))
		http.Error(w, "Failed to load imports", http.StatusInternalServerError)
		return
	}
	if imports == nil {
		imports = []database.ImportRow{}
	}
	json.NewEncoder(w).Encode(imports)
}

func (a *adminServer) handleGetStreamTypes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if a.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	rows, err := a.db.LoadStreamTypes()
	if err != nil {
		addLogEntry("error", fmt.Sprintf("Failed to load stream types: %v", err))
		http.Error(w, "Failed to load stream types", http.StatusInternalServerError)
		return
	}

	type streamTypeResponse struct {
		ChannelUID  int    `json:"channelUid"`
		ChannelName string `json:"channelName"`
		StreamType  string `json:"streamType"`
		MimeType    string `json:"mimeType"`
		ContentType string `json:"contentType"`
		DetectedAt  string `json:"detectedAt"`
	}
	out := make([]streamTypeResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, streamTypeResponse{
			ChannelUID:  row.ChannelUID,
			ChannelName: row.ChannelName,
			StreamType:  row.StreamType.String(),
			MimeType:    row.MimeType,
			ContentType: row.ContentType,
			DetectedAt:  row.DetectedAt.Format(time.RFC3339),
		})
	}
	json.NewEncoder(w).Encode(out)
}

// handleReload queues a catalog re-import.
func (a *adminServer) handleReload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !a.authorize(w, r, "reload") {
		return
	}

	addLogEntry("info", "Reload requested via admin interface")

	select {
	case reloadChan <- true:
	default:
		// a reload is already queued
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "reload_queued"})
}

func (a *adminServer) handleVacuum(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !a.authorize(w, r, "vacuum") {
		return
	}
	if a.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	if err := a.db.Vacuum(); err != nil {
		addLogEntry("error", fmt.Sprintf("Vacuum failed: %v", err))
		http.Error(w, "Vacuum failed", http.StatusInternalServerError)
		return
	}

	addLogEntry("info", "Database vacuumed via admin interface")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// handleBackup writes a timestamped copy of the database into the backups
// directory next to the database file and returns its path.
func (a *adminServer) handleBackup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !a.authorize(w, r, "backup") {
		return
	}
	if a.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	path := backupPath(a.cfg.DatabasePath, time.Now())
	if err := a.db.Backup(path); err != nil {
		addLogEntry("error", fmt.Sprintf("Backup failed: %v", err))
		http.Error(w, "Backup failed", http.StatusInternalServerError)
		return
	}

	addLogEntry("info", fmt.Sprintf("Database backup written to %s", path))
	json.NewEncoder(w).Encode(map[string]string{"status": "success", "path": path})
}

func backupPath(databasePath string, now time.Time) string {
	return filepath.Join(filepath.Dir(databasePath), "backups",
		fmt.Sprintf("catchup-%s.db", now.Format("20060102-150405")))
}

// authorize checks the admin token against the configured bcrypt hash and
// writes the error response when it does not match. Without a hash every
// protected endpoint is disabled.
func (a *adminServer) authorize(w http.ResponseWriter, r *http.Request, action string) bool {
	if a.cfg.AdminTokenHash == "" {
		http.Error(w, "Admin actions are disabled", http.StatusForbidden)
		return false
	}

	if !checkAdminToken(a.cfg.AdminTokenHash, adminToken(r)) {
		addLogEntry("warn", fmt.Sprintf("Rejected %s request from %s", action, r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func adminToken(r *http.Request) string {
	if token := r.Header.Get("X-Admin-Token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func checkAdminToken(hash, token string) bool {
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

func handleGetLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	logMu.Lock()
	entries := append([]LogEntry(nil), logEntries...)
	logMu.Unlock()

	if err := json.NewEncoder(w).Encode(entries); err != nil {
		http.Error(w, "Failed to encode logs", http.StatusInternalServerError)
	}
}

func handleClearLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	logMu.Lock()
	logEntries = logEntries[:0]
	logMu.Unlock()
	addLogEntry("info", "Log entries cleared via admin interface")

	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// addLogEntry appends to the admin log buffer, keeping the newest 1000 lines.
func addLogEntry(level, message string) {
	entry := LogEntry{
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Level:     level,
		Message:   message,
	}

	logMu.Lock()
	defer logMu.Unlock()

	logEntries = append(logEntries, entry)
	if len(logEntries) > 1000 {
		logEntries = logEntries[len(logEntries)-1000:]
	}
}

// formatDuration converts time.Duration to human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
