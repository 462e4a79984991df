// Package api provides HTTP handlers for the localscan REST API.
// It includes handlers for running port scans, browsing the scan history,
// and reporting service health and status.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"localscan/internal/models"
	"localscan/internal/scanner"
)

// maxRequestBody bounds the size of a scan request body
const maxRequestBody = 4096

// ScanHandler handles scan-related API endpoints
type ScanHandler struct {
	scanService *scanner.ScanService
	limiter     *RateLimiter
}

// NewScanHandler creates a new scan handler. limiter may be nil.
func NewScanHandler(scanService *scanner.ScanService, limiter *RateLimiter) *ScanHandler {
	return &ScanHandler{
		scanService: scanService,
		limiter:     limiter,
	}
}

// RegisterRoutes registers the scan routes
func (h *ScanHandler) RegisterRoutes(r *mux.Router) {
	var scan http.Handler = http.HandlerFunc(h.runScan)
	if h.limiter != nil {
		scan = h.limiter.Middleware()(scan)
	}
	r.Handle("/api/scan", scan).Methods("POST")
	r.HandleFunc("/api/scan/common-ports", h.getCommonPorts).Methods("GET")
}

// runScan validates the requested range and runs the scan synchronously
func (h *ScanHandler) runScan(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "runScan").Logger()

	// Parse scan request from body
	var req models.ScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		logger.Warn().Err(err).Msg("Failed to parse scan request")
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if req.PortRange == "" {
		writeError(w, http.StatusBadRequest, "the port_range field is required")
		return
	}

	result, err := h.scanService.Scan(r.Context(), req)
	if err != nil {
		var vErr *scanner.ValidationError
		if errors.As(err, &vErr) {
			logger.Info().Str("portRange", req.PortRange).Str("kind", string(vErr.Kind)).Msg("Rejected port range")
			writeError(w, http.StatusBadRequest, vErr.Message)
			return
		}
		logger.Error().Err(err).Msg("Scan failed")
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}

	// Return JSON response
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error().Err(err).Msg("Failed to encode scan result")
		return
	}
}

// getCommonPorts returns well-known ports and their services
func (h *ScanHandler) getCommonPorts(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "getCommonPorts").Logger()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(scanner.CommonPorts()); err != nil {
		logger.Error().Err(err).Msg("Failed to encode common ports")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
