// Package config manages the localscan service configuration.
// It handles loading, validating, and providing access to configuration settings
// from YAML files. It includes defaults for all settings and implements thread-safe
// access to configuration values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Port              int      `yaml:"port"`
	Host              string   `yaml:"host"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
	ReadTimeout       int      `yaml:"readTimeout"`
	WriteTimeout      int      `yaml:"writeTimeout"`
	ShutdownTimeout   int      `yaml:"shutdownTimeout"`
	RequestsPerSecond float64  `yaml:"requestsPerSecond"`
	RequestBurst      int      `yaml:"requestBurst"`
}

// ScannerConfig holds the nmap invocation settings
type ScannerConfig struct {
	NmapPath               string `yaml:"nmapPath"`
	Timeout                string `yaml:"timeout"`
	MaxConcurrentScans     int    `yaml:"maxConcurrentScans"`
	RateLimit              int    `yaml:"rateLimit"`
	SynScan                bool   `yaml:"synScan"`
	DisablePing            bool   `yaml:"disablePing"`
	EnableOSDetection      bool   `yaml:"enableOSDetection"`
	EnableVersionDetection bool   `yaml:"enableVersionDetection"`
}

// DatabaseConfig holds the scan history settings
type DatabaseConfig struct {
	Path                 string `yaml:"path"`
	DataRetentionDays    int    `yaml:"dataRetentionDays"`
	HistoryLimit         int    `yaml:"historyLimit"`
	MaintenanceFrequency string `yaml:"maintenanceFrequency"`
}

// LoggingConfig holds the log output settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Config represents the application configuration.
// Code running concurrently with Reload reads it through the *Settings getters.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	path string
	mu   sync.RWMutex
}

var (
	instance *Config
	once     sync.Once
)

// GetConfig returns the singleton configuration instance
func GetConfig() *Config {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New returns a configuration populated with defaults
func New() *Config {
	c := &Config{}
	setDefaults(c)
	return c
}

// LoadConfig loads configuration from a YAML file
func (c *Config) LoadConfig(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Save path for potential reloading
	c.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("configuration file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	// Decode over defaults so a rejected file leaves the current settings untouched
	next := New()
	if err := yaml.Unmarshal(data, next); err != nil {
		return fmt.Errorf("failed to parse configuration file: %w", err)
	}

	if err := next.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Create the database directory if it doesn't exist
	if dir := filepath.Dir(next.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	c.Server = next.Server
	c.Scanner = next.Scanner
	c.Database = next.Database
	c.Logging = next.Logging
	c.Metrics = next.Metrics

	log.Info().Str("path", path).Msg("Configuration loaded successfully")
	return nil
}

// Reload reloads the configuration from the file
func (c *Config) Reload() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()

	if path == "" {
		return errors.New("configuration was not loaded from a file")
	}
	return c.LoadConfig(path)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid requests per second: %v", c.Server.RequestsPerSecond)
	}

	timeout, err := time.ParseDuration(c.Scanner.Timeout)
	if err != nil {
		return fmt.Errorf("invalid scan timeout: %s", c.Scanner.Timeout)
	}
	if timeout <= 0 {
		return fmt.Errorf("scan timeout must be positive: %s", c.Scanner.Timeout)
	}

	// A response that outlives the write deadline never reaches the caller
	if c.Server.WriteTimeout > 0 && time.Duration(c.Server.WriteTimeout)*time.Second <= timeout {
		return fmt.Errorf("server writeTimeout (%ds) must exceed scanner timeout (%s)",
			c.Server.WriteTimeout, c.Scanner.Timeout)
	}

	if c.Scanner.MaxConcurrentScans <= 0 {
		return fmt.Errorf("invalid max concurrent scans: %d", c.Scanner.MaxConcurrentScans)
	}

	if c.Scanner.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %d", c.Scanner.RateLimit)
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Database.MaintenanceFrequency != "" {
		if _, err := time.ParseDuration(c.Database.MaintenanceFrequency); err != nil {
			return fmt.Errorf("invalid maintenance frequency: %s", c.Database.MaintenanceFrequency)
		}
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		return fmt.Errorf("metrics endpoint must start with /: %q", c.Metrics.Endpoint)
	}

	return nil
}

// GetScanTimeout returns the scan timeout as a parsed duration
func (c *Config) GetScanTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return time.ParseDuration(c.Scanner.Timeout)
}

// GetMaintenanceFrequency returns the history maintenance frequency as a parsed duration
func (c *Config) GetMaintenanceFrequency() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return time.ParseDuration(c.Database.MaintenanceFrequency)
}

// ServerSettings returns a copy of the server settings
func (c *Config) ServerSettings() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	settings := c.Server
	settings.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return settings
}

// ScannerSettings returns a copy of the scanner settings
func (c *Config) ScannerSettings() ScannerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.Scanner
}

// DatabaseSettings returns a copy of the database settings
func (c *Config) DatabaseSettings() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.Database
}

// MetricsSettings returns a copy of the metrics settings
func (c *Config) MetricsSettings() MetricsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.Metrics
}

// GetLogLevel returns the configured log level
func (c *Config) GetLogLevel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.Logging.Level
}

// setDefaults initializes the configuration with default values
func setDefaults(c *Config) {
	// Server defaults
	c.Server.Port = 5000
	c.Server.Host = "127.0.0.1"
	c.Server.AllowedOrigins = []string{"*"}
	c.Server.ReadTimeout = 30
	c.Server.WriteTimeout = 150
	c.Server.ShutdownTimeout = 10
	c.Server.RequestsPerSecond = 1
	c.Server.RequestBurst = 3

	// Scanner defaults
	c.Scanner.Timeout = "120s"
	c.Scanner.MaxConcurrentScans = 2
	c.Scanner.RateLimit = 0 // no --max-rate
	c.Scanner.SynScan = false
	c.Scanner.DisablePing = true
	c.Scanner.EnableOSDetection = false
	c.Scanner.EnableVersionDetection = true

	// Database defaults
	c.Database.Path = "./data/localscan.db"
	c.Database.DataRetentionDays = 90
	c.Database.HistoryLimit = 10
	c.Database.MaintenanceFrequency = "24h"

	// Logging defaults
	c.Logging.Level = "info"
	c.Logging.Format = "console"

	// Metrics defaults
	c.Metrics.Enabled = true
	c.Metrics.Endpoint = "/metrics"
}
