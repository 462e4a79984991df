// internal/api/status_handlers.go
package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"localscan/internal/config"
	"localscan/internal/database"
	"localscan/internal/models"
	"localscan/internal/scanner"
)

// StatusHandler handles system status-related API endpoints
type StatusHandler struct {
	db          *database.DB
	scanService *scanner.ScanService
	cfg         *config.Config
	startTime   time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(db *database.DB, scanService *scanner.ScanService, cfg *config.Config) *StatusHandler {
	return &StatusHandler{
		db:          db,
		scanService: scanService,
		cfg:         cfg,
		startTime:   time.Now(),
	}
}

// RegisterRoutes registers the status routes
func (h *StatusHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/health", h.getHealthCheck).Methods("GET")
	r.HandleFunc("/api/status", h.getSystemStatus).Methods("GET")
}

// getHealthCheck returns a simple health check response
func (h *StatusHandler) getHealthCheck(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "getHealthCheck").Logger()

	// Simple health check - check DB connection
	status := "healthy"
	message := "Port scan service is running"
	code := http.StatusOK
	if err := h.db.Ping(); err != nil {
		logger.Error().Err(err).Msg("Database ping failed")
		status = "unhealthy"
		message = "Scan history database is unavailable"
		code = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    status,
		"message":   message,
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}

	// Return JSON response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error().Err(err).Msg("Failed to encode health check response")
	}
}

// getSystemStatus returns the overall system status
func (h *StatusHandler) getSystemStatus(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "getSystemStatus").Logger()

	// Get database stats
	dbStats, err := h.db.GetDatabaseStats()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve database stats")
		dbStats = map[string]interface{}{}
	}

	scansRun, lastScan := h.scanService.Stats()
	scannerSettings := h.cfg.ScannerSettings()
	dbSettings := h.cfg.DatabaseSettings()

	// Build memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(h.startTime).String(),
		"startTime": h.startTime,
		"system": map[string]interface{}{
			"goVersion":    runtime.Version(),
			"goArch":       runtime.GOARCH,
			"goOS":         runtime.GOOS,
			"numCPU":       runtime.NumCPU(),
			"numGoroutine": runtime.NumGoroutine(),
		},
		"memory": map[string]interface{}{
			"alloc":       memStats.Alloc / 1024 / 1024, // MB
			"sys":         memStats.Sys / 1024 / 1024,   // MB
			"numGC":       memStats.NumGC,
			"heapObjects": memStats.HeapObjects,
		},
		"scanner": map[string]interface{}{
			"target":             models.LocalTarget,
			"timeout":            scannerSettings.Timeout,
			"maxConcurrentScans": scannerSettings.MaxConcurrentScans,
			"synScan":            scannerSettings.SynScan,
			"osDetection":        scannerSettings.EnableOSDetection,
			"versionDetection":   scannerSettings.EnableVersionDetection,
			"scansSinceStart":    scansRun,
			"lastScan":           lastScan,
		},
		"database": map[string]interface{}{
			"path":          dbSettings.Path,
			"sizeBytes":     dbStats["sizeBytes"],
			"scanCount":     dbStats["scanCount"],
			"portCount":     dbStats["portCount"],
			"lastScanTime":  dbStats["lastScanTime"],
			"retentionDays": dbSettings.DataRetentionDays,
		},
		"timestamp": time.Now().UTC(),
	}

	// Return JSON response
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error().Err(err).Msg("Failed to encode system status")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
