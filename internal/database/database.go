// Package database provides database operations for the localscan service.
// It handles all interactions with the SQLite scan history database including
// initialization, optimization, retention, and queries over recorded scans.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"localscan/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// DB represents the database connection
type DB struct {
	*sql.DB
	Path   string
	logger *zerolog.Logger
	sync.Mutex
}

// New creates a new database connection
func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database connection
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection parameters
	db.SetMaxOpenConns(1) // SQLite supports only one writer at a time
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	logger := log.With().Str("component", "database").Logger()

	dbInstance := &DB{
		DB:     db,
		Path:   path,
		logger: &logger,
	}

	// Run PRAGMA statements first so foreign keys apply to the schema
	if err := dbInstance.optimizeDB(); err != nil {
		logger.Warn().Err(err).Msg("Failed to set some database optimization parameters")
	}

	// Initialize the database schema
	if err := dbInstance.initializeDB(); err != nil {
		db.Close()
		return nil, err
	}

	return dbInstance, nil
}

// Initialize database schema
func (db *DB) initializeDB() error {
	db.logger.Info().Msg("Initializing database schema")

	schema := `
	-- Scans table
	CREATE TABLE IF NOT EXISTS scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_uuid TEXT NOT NULL UNIQUE,
		target TEXT NOT NULL,
		port_range TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		duration_ms INTEGER DEFAULT 0,
		total_scanned INTEGER DEFAULT 0,
		open_count INTEGER DEFAULT 0,
		closed_count INTEGER DEFAULT 0,
		filtered_count INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT,
		result TEXT
	);

	-- Ports found by each scan
	CREATE TABLE IF NOT EXISTS scan_ports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id INTEGER NOT NULL,
		port_number INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		state TEXT NOT NULL,
		service_name TEXT,
		product TEXT,
		version TEXT,
		FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
	);

	-- Create indexes
	CREATE INDEX IF NOT EXISTS idx_scans_timestamp ON scans(timestamp);
	CREATE INDEX IF NOT EXISTS idx_scan_ports_scan_id ON scan_ports(scan_id);
	CREATE INDEX IF NOT EXISTS idx_scan_ports_state ON scan_ports(state, port_number);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return nil
}

// optimizeDB sets SQLite optimization parameters
func (db *DB) optimizeDB() error {
	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return err
	}

	// Set synchronous mode to NORMAL for better performance with adequate safety
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return err
	}

	// Set cache size
	if _, err := db.Exec("PRAGMA cache_size=-8000"); err != nil { // Approx 8MB cache
		db.logger.Warn().Err(err).Msg("Failed to set cache_size PRAGMA")
	}

	// Set busy timeout to avoid "database is locked" errors
	if _, err := db.Exec("PRAGMA busy_timeout=10000"); err != nil { // 10 seconds
		db.logger.Warn().Err(err).Msg("Failed to set busy_timeout PRAGMA")
	}

	return nil
}

// ExecuteWithRetry attempts to execute a function with retries for transient errors
func (db *DB) ExecuteWithRetry(maxRetries int, retryDelay time.Duration, operation func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}

		// Check if the error is one we should retry
		if strings.Contains(err.Error(), "database is locked") ||
			strings.Contains(err.Error(), "busy") {
			db.logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("maxRetries", maxRetries).
				Msg("Retrying database operation")

			time.Sleep(retryDelay)
			retryDelay = retryDelay * 2
			continue
		}

		// Not a retryable error
		break
	}

	return fmt.Errorf("database operation failed after %d attempts: %w", maxRetries, err)
}

// SaveScan stores a scan and its ports in one transaction
func (db *DB) SaveScan(record *models.ScanRecord) (int64, error) {
	if record.ScanID == "" {
		return 0, fmt.Errorf("scan ID cannot be empty")
	}
	if record.Status == "" {
		return 0, fmt.Errorf("status cannot be empty")
	}

	var scanID int64
	err := db.ExecuteWithRetry(3, 100*time.Millisecond, func() error {
		id, err := db.saveScan(record)
		if err != nil {
			return err
		}
		scanID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	db.logger.Debug().
		Int64("id", scanID).
		Str("scanID", record.ScanID).
		Int("ports", len(record.Ports)).
		Msg("Saved scan to history")

	return scanID, nil
}

func (db *DB) saveScan(record *models.ScanRecord) (int64, error) {
	db.Lock()
	defer db.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure transaction is rolled back in case of error
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	result, err := tx.Exec(
		`INSERT INTO scans (scan_uuid, target, port_range, timestamp, duration_ms,
		 total_scanned, open_count, closed_count, filtered_count, status, error_message, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ScanID, record.Target, record.PortRange, record.Timestamp.UTC(), record.DurationMs,
		record.TotalScanned, record.OpenCount, record.ClosedCount, record.FilteredCount,
		record.Status, nullString(record.ErrorMessage), nullString(string(record.Result)),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert scan: %w", err)
	}

	scanID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted scan ID: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO scan_ports (scan_id, port_number, protocol, state, service_name, product, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare port insert: %w", err)
	}
	defer stmt.Close()

	for _, port := range record.Ports {
		_, err := stmt.Exec(scanID, port.PortNumber, port.Protocol, port.State,
			nullString(port.ServiceName), nullString(port.Product), nullString(port.Version))
		if err != nil {
			return 0, fmt.Errorf("failed to insert port %d/%s: %w", port.PortNumber, port.Protocol, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	// Set tx to nil to prevent rollback in deferred function
	tx = nil

	return scanID, nil
}

const scanColumns = `id, scan_uuid, target, port_range, timestamp, duration_ms,
	total_scanned, open_count, closed_count, filtered_count, status, error_message, result`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.ScanRecord, error) {
	var record models.ScanRecord
	var errorMsg, result sql.NullString

	err := row.Scan(
		&record.ID,
		&record.ScanID,
		&record.Target,
		&record.PortRange,
		&record.Timestamp,
		&record.DurationMs,
		&record.TotalScanned,
		&record.OpenCount,
		&record.ClosedCount,
		&record.FilteredCount,
		&record.Status,
		&errorMsg,
		&result,
	)
	if err != nil {
		return nil, err
	}

	if errorMsg.Valid {
		record.ErrorMessage = errorMsg.String
	}
	if result.Valid && result.String != "" {
		record.Result = []byte(result.String)
	}

	return &record, nil
}

// GetScan retrieves a scan and its ports by ID
func (db *DB) GetScan(id int64) (*models.ScanRecord, error) {
	record, err := scanRecord(db.QueryRow("SELECT "+scanColumns+" FROM scans WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan #%d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	ports, err := db.getScanPorts(id)
	if err != nil {
		return nil, err
	}
	record.Ports = ports

	return record, nil
}

func (db *DB) getScanPorts(scanID int64) ([]*models.ScanPort, error) {
	rows, err := db.Query(
		`SELECT id, scan_id, port_number, protocol, state, service_name, product, version
		 FROM scan_ports WHERE scan_id = ? ORDER BY id`, scanID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan ports: %w", err)
	}
	defer rows.Close()

	var ports []*models.ScanPort
	for rows.Next() {
		var port models.ScanPort
		var serviceName, product, version sql.NullString

		if err := rows.Scan(
			&port.ID,
			&port.ScanID,
			&port.PortNumber,
			&port.Protocol,
			&port.State,
			&serviceName,
			&product,
			&version,
		); err != nil {
			return nil, fmt.Errorf("failed to scan port row: %w", err)
		}

		port.ServiceName = serviceName.String
		port.Product = product.String
		port.Version = version.String
		ports = append(ports, &port)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating port rows: %w", err)
	}

	return ports, nil
}

// GetRecentScans retrieves the newest scans, without their ports
func (db *DB) GetRecentScans(limit int) ([]*models.ScanRecord, error) {
	rows, err := db.Query(
		"SELECT "+scanColumns+" FROM scans ORDER BY timestamp DESC, id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent scans: %w", err)
	}
	defer rows.Close()

	scans := make([]*models.ScanRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		scans = append(scans, record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan rows: %w", err)
	}

	return scans, nil
}

// GetPortDistribution returns how many times each port was found open, most frequent first
func (db *DB) GetPortDistribution(limit int) (map[int]int, error) {
	rows, err := db.Query(
		`SELECT port_number, COUNT(*) AS n FROM scan_ports
		 WHERE state = 'open'
		 GROUP BY port_number ORDER BY n DESC, port_number LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query port distribution: %w", err)
	}
	defer rows.Close()

	distribution := make(map[int]int)
	for rows.Next() {
		var port, count int
		if err := rows.Scan(&port, &count); err != nil {
			return nil, fmt.Errorf("failed to scan port distribution row: %w", err)
		}
		distribution[port] = count
	}

	return distribution, rows.Err()
}

// GetServiceDistribution returns how many times each service was found open
func (db *DB) GetServiceDistribution(limit int) (map[string]int, error) {
	rows, err := db.Query(
		`SELECT COALESCE(service_name, 'Unknown') AS service, COUNT(*) AS n FROM scan_ports
		 WHERE state = 'open'
		 GROUP BY service ORDER BY n DESC, service LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query service distribution: %w", err)
	}
	defer rows.Close()

	distribution := make(map[string]int)
	for rows.Next() {
		var service string
		var count int
		if err := rows.Scan(&service, &count); err != nil {
			return nil, fmt.Errorf("failed to scan service distribution row: %w", err)
		}
		distribution[service] = count
	}

	return distribution, rows.Err()
}

// GetHistoryStats summarizes the stored scan history
func (db *DB) GetHistoryStats(topN int) (*models.HistoryStats, error) {
	stats := &models.HistoryStats{}

	if err := db.QueryRow("SELECT COUNT(*) FROM scans").Scan(&stats.TotalScans); err != nil {
		return nil, fmt.Errorf("failed to get scan count: %w", err)
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM scans WHERE status = 'error'").Scan(&stats.FailedScans); err != nil {
		return nil, fmt.Errorf("failed to get failed scan count: %w", err)
	}

	lastScan, err := db.lastScanTime()
	if err != nil {
		return nil, err
	}
	stats.LastScanTime = lastScan

	if stats.PortDistribution, err = db.GetPortDistribution(topN); err != nil {
		return nil, err
	}
	if stats.ServiceDistribution, err = db.GetServiceDistribution(topN); err != nil {
		return nil, err
	}

	return stats, nil
}

// lastScanTime returns the timestamp of the newest scan, or zero time when there are none
func (db *DB) lastScanTime() (time.Time, error) {
	var ts time.Time
	err := db.QueryRow("SELECT timestamp FROM scans ORDER BY timestamp DESC LIMIT 1").Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last scan time: %w", err)
	}
	return ts, nil
}

// CleanOldData removes scans older than the retention period
func (db *DB) CleanOldData(retentionDays int) (int, error) {
	db.Lock()
	defer db.Unlock()

	// Calculate cutoff date
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	// Ports first, so cleanup does not depend on the foreign key cascade
	res, err := tx.Exec(
		"DELETE FROM scan_ports WHERE scan_id IN (SELECT id FROM scans WHERE timestamp < ?)", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old scan ports: %w", err)
	}
	portCount, _ := res.RowsAffected()

	res, err = tx.Exec("DELETE FROM scans WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old scans: %w", err)
	}
	scanCount, _ := res.RowsAffected()

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	db.logger.Info().
		Int("scans", int(scanCount)).
		Int("ports", int(portCount)).
		Msg("Cleaned old data")

	return int(scanCount), nil
}

// OptimizeDatabase performs database maintenance operations
func (db *DB) OptimizeDatabase() error {
	db.Lock()
	defer db.Unlock()

	db.logger.Info().Msg("Optimizing database")

	// Run VACUUM to rebuild the database and reclaim space
	if _, err := db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	// Run ANALYZE to update statistics for query planning
	if _, err := db.Exec("ANALYZE"); err != nil {
		return fmt.Errorf("failed to analyze database: %w", err)
	}

	// Refresh PRAGMA settings as they may reset after VACUUM
	if err := db.optimizeDB(); err != nil {
		db.logger.Warn().Err(err).Msg("Failed to reset optimization parameters after vacuum")
	}

	return nil
}

// GetDatabaseStats returns statistics about the database
func (db *DB) GetDatabaseStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var scanCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM scans").Scan(&scanCount); err != nil {
		return nil, fmt.Errorf("failed to get scan count: %w", err)
	}
	stats["scanCount"] = scanCount

	var portCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM scan_ports").Scan(&portCount); err != nil {
		return nil, fmt.Errorf("failed to get port count: %w", err)
	}
	stats["portCount"] = portCount

	lastScan, err := db.lastScanTime()
	if err != nil {
		db.logger.Warn().Err(err).Msg("Failed to get last scan time")
	}
	stats["lastScanTime"] = lastScan

	// Get database file size
	fileInfo, err := os.Stat(db.Path)
	if err != nil {
		db.logger.Warn().Err(err).Msg("Failed to get database file size")
		stats["sizeBytes"] = int64(0)
	} else {
		stats["sizeBytes"] = fileInfo.Size()
	}

	return stats, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
