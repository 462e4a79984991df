// internal/api/history_handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"localscan/internal/database"
)

// maxHistoryLimit caps the number of scans a single history request may return
const maxHistoryLimit = 100

// statsTopN is the number of ports and services reported in history stats
const statsTopN = 10

// HistoryHandler handles scan history API endpoints
type HistoryHandler struct {
	db           *database.DB
	defaultLimit int
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(db *database.DB, defaultLimit int) *HistoryHandler {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &HistoryHandler{
		db:           db,
		defaultLimit: defaultLimit,
	}
}

// RegisterRoutes registers the history routes
func (h *HistoryHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/scan-history", h.getHistory).Methods("GET")
	r.HandleFunc("/api/scan-history/stats", h.getHistoryStats).Methods("GET")
	r.HandleFunc("/api/scan-history/{id:[0-9]+}", h.getHistoryEntry).Methods("GET")
}

// getHistory returns the most recent scans, newest first
func (h *HistoryHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "getHistory").Logger()

	// Parse query parameters
	limit := h.defaultLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsedLimit, err := strconv.Atoi(limitParam)
		if err != nil || parsedLimit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsedLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	scans, err := h.db.GetRecentScans(limit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve scan history")
		writeError(w, http.StatusInternalServerError, "failed to retrieve scan history")
		return
	}

	// Return JSON response
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(scans); err != nil {
		logger.Error().Err(err).Msg("Failed to encode scan history")
		return
	}
}

// getHistoryEntry returns one stored scan with its ports
func (h *HistoryHandler) getHistoryEntry(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "getHistoryEntry").Logger()

	// Parse scan ID from URL
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		logger.Warn().Err(err).Str("id", idStr).Msg("Invalid scan ID")
		writeError(w, http.StatusBadRequest, "invalid scan ID")
		return
	}

	scan, err := h.db.GetScan(id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		logger.Error().Err(err).Int64("id", id).Msg("Failed to retrieve scan")
		writeError(w, http.StatusInternalServerError, "failed to retrieve scan")
		return
	}

	// Return JSON response
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(scan); err != nil {
		logger.Error().Err(err).Msg("Failed to encode scan")
		return
	}
}

// getHistoryStats returns aggregate statistics over the stored history
func (h *HistoryHandler) getHistoryStats(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "getHistoryStats").Logger()

	stats, err := h.db.GetHistoryStats(statsTopN)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve history stats")
		writeError(w, http.StatusInternalServerError, "failed to retrieve history stats")
		return
	}

	// Return JSON response
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		logger.Error().Err(err).Msg("Failed to encode history stats")
		return
	}
}
