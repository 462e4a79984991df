// Package scanner implements the port scan pipeline of the localscan service.
// A request's port range is validated, nmap is run against the local host, and the
// raw output is classified, grouped and counted into a single immutable result.
// Outcomes are optionally recorded to the scan history.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"localscan/internal/config"
	"localscan/internal/metrics"
	"localscan/internal/models"
)

// HistoryStore persists scan outcomes
type HistoryStore interface {
	SaveScan(record *models.ScanRecord) (int64, error)
	CleanOldData(retentionDays int) (int, error)
}

// ScanService orchestrates scans and the history maintenance schedule
type ScanService struct {
	config   *config.Config
	executor Executor
	history  HistoryStore
	metrics  *metrics.Collector
	logger   zerolog.Logger

	mu          sync.Mutex
	maintenance *time.Ticker
	stopChan    chan struct{}
	lastScan    time.Time
	scanCount   int64
}

// New creates a scan service. history and collector may be nil.
func New(cfg *config.Config, executor Executor, history HistoryStore, collector *metrics.Collector) *ScanService {
	return &ScanService{
		config:   cfg,
		executor: executor,
		history:  history,
		metrics:  collector,
		logger:   log.With().Str("component", "scanner").Logger(),
	}
}

// Scan validates the request and runs it. Only validation failures are returned
// as errors; execution failures are carried in the result.
func (s *ScanService) Scan(ctx context.Context, req models.ScanRequest) (models.ScanResult, error) {
	portRange, err := ParsePortRange(req.PortRange)
	if err != nil {
		var vErr *ValidationError
		if s.metrics != nil && errors.As(err, &vErr) {
			s.metrics.IncValidationFailure(string(vErr.Kind))
		}
		s.logger.Debug().Str("portRange", req.PortRange).Err(err).Msg("Rejected scan request")
		return models.ScanResult{}, err
	}

	scanID := uuid.New().String()
	logger := s.logger.With().Str("scanID", scanID).Str("portRange", portRange.String()).Logger()
	logger.Info().Msg("Starting port scan")

	if s.metrics != nil {
		done := s.metrics.ScanStarted()
		defer done()
	}

	start := timeNow()
	raw, execErr := s.executor.Execute(ctx, portRange, req.Target)
	duration := timeNow().Sub(start)

	var result models.ScanResult
	if execErr != nil {
		result = Build(models.LocalTarget, portRange, models.Findings{}, models.ScanSummary{}, nil, duration, execErr)
		logger.Error().Err(execErr).Dur("duration", duration).Msg("Port scan failed")
	} else {
		findings, hostInfo := Classify(raw)
		grouped := Group(findings)
		result = Build(models.LocalTarget, portRange, grouped, Aggregate(grouped), hostInfo, duration, nil)
		logger.Info().
			Int("total", result.Summary.TotalScanned).
			Int("open", result.Summary.OpenCount).
			Int("closed", result.Summary.ClosedCount).
			Int("filtered", result.Summary.FilteredCount).
			Dur("duration", duration).
			Msg("Port scan completed successfully")
	}

	s.observe(result, duration)
	s.record(scanID, result, duration, logger)

	return result, nil
}

// observe updates the scan metrics
func (s *ScanService) observe(result models.ScanResult, duration time.Duration) {
	s.mu.Lock()
	s.lastScan = result.Timestamp
	s.scanCount++
	s.mu.Unlock()

	if s.metrics == nil {
		return
	}
	if result.Failed() {
		s.metrics.ObserveScan(metrics.OutcomeError, duration)
		return
	}
	s.metrics.ObserveScan(metrics.OutcomeSuccess, duration)
	s.metrics.AddPorts(result.Summary)
}

// record stores the outcome in the history. Failures are logged, never returned.
func (s *ScanService) record(scanID string, result models.ScanResult, duration time.Duration, logger zerolog.Logger) {
	if s.history == nil {
		return
	}

	record, err := NewScanRecord(scanID, result, duration)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build scan history record")
		return
	}

	id, err := s.history.SaveScan(record)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to save scan to history")
		return
	}
	logger.Debug().Int64("historyID", id).Msg("Scan saved to history")
}

// NewScanRecord converts a result into a history record, copying the findings
func NewScanRecord(scanID string, result models.ScanResult, duration time.Duration) (*models.ScanRecord, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	record := &models.ScanRecord{
		ScanID:        scanID,
		Target:        result.Target,
		PortRange:     result.PortRange.String(),
		Timestamp:     result.Timestamp,
		DurationMs:    duration.Milliseconds(),
		TotalScanned:  result.Summary.TotalScanned,
		OpenCount:     result.Summary.OpenCount,
		ClosedCount:   result.Summary.ClosedCount,
		FilteredCount: result.Summary.FilteredCount,
		Status:        "completed",
		Result:        data,
	}

	if result.Failed() {
		record.Status = "error"
		record.ErrorMessage = result.Error
		return record, nil
	}

	for _, f := range result.Findings.All() {
		record.Ports = append(record.Ports, &models.ScanPort{
			PortNumber:  f.Port,
			Protocol:    f.Protocol,
			State:       string(f.State),
			ServiceName: deref(f.ServiceName),
			Product:     deref(f.Product),
			Version:     deref(f.Version),
		})
	}

	return record, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Stats reports the number of scans run since start and when the last one finished
func (s *ScanService) Stats() (int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanCount, s.lastScan
}

// Start begins the history maintenance schedule
func (s *ScanService) Start() error {
	s.logger.Info().Msg("Starting scan service")

	if s.history == nil {
		return nil
	}

	frequency, err := s.config.GetMaintenanceFrequency()
	if err != nil || frequency <= 0 {
		s.logger.Warn().Str("frequency", s.config.DatabaseSettings().MaintenanceFrequency).
			Msg("Invalid maintenance frequency in config, using default 24h")
		frequency = 24 * time.Hour
	}

	s.mu.Lock()
	if s.maintenance != nil {
		s.mu.Unlock()
		return nil
	}
	s.maintenance = time.NewTicker(frequency)
	s.stopChan = make(chan struct{})
	ticker, stop := s.maintenance, s.stopChan
	s.mu.Unlock()

	s.logger.Info().Str("frequency", frequency.String()).Msg("Starting history maintenance")

	go func() {
		// Run initial cleanup immediately
		s.cleanHistory()

		for {
			select {
			case <-ticker.C:
				s.cleanHistory()
			case <-stop:
				s.logger.Info().Msg("History maintenance stopped")
				return
			}
		}
	}()

	return nil
}

// Stop halts the maintenance schedule
func (s *ScanService) Stop() error {
	s.logger.Info().Msg("Stopping scan service")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maintenance != nil {
		s.maintenance.Stop()
		close(s.stopChan)
		s.maintenance = nil
	}
	return nil
}

func (s *ScanService) cleanHistory() {
	days := s.config.DatabaseSettings().DataRetentionDays
	if days <= 0 {
		return
	}

	removed, err := s.history.CleanOldData(days)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to clean old scan history")
		return
	}
	s.logger.Info().Int("removed", removed).Int("retentionDays", days).Msg("Cleaned old scan history")
}
