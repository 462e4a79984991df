// internal/config/config_test.go
package config

import (
	"os"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary directory for the test
	tempDir, err := os.MkdirTemp("", "config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	// Create a test config file
	configPath := filepath.Join(tempDir, "config.yaml")
	dbPath := filepath.Join(tempDir, "data", "history.db")
	testConfig := `
server:
  port: 9090
  host: "127.0.0.1"
  requestsPerSecond: 2.5

scanner:
  nmapPath: "/usr/local/bin/nmap"
  timeout: "45s"
  rateLimit: 500
  synScan: true
  enableOSDetection: true

database:
  path: "` + dbPath + `"
  historyLimit: 25
`
	err = os.WriteFile(configPath, []byte(testConfig), 0644)
	if err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	// Test loading the configuration
	cfg := New()
	err = cfg.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	// Check that values were loaded correctly
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}

	if cfg.Server.RequestsPerSecond != 2.5 {
		t.Errorf("Expected 2.5 requests per second, got %v", cfg.Server.RequestsPerSecond)
	}

	if cfg.Scanner.NmapPath != "/usr/local/bin/nmap" {
		t.Errorf("Expected nmap path /usr/local/bin/nmap, got %s", cfg.Scanner.NmapPath)
	}

	if cfg.Scanner.RateLimit != 500 {
		t.Errorf("Expected rate limit 500, got %d", cfg.Scanner.RateLimit)
	}

	if !cfg.Scanner.SynScan || !cfg.Scanner.EnableOSDetection {
		t.Errorf("Expected SYN scan and OS detection enabled")
	}

	if cfg.Database.HistoryLimit != 25 {
		t.Errorf("Expected history limit 25, got %d", cfg.Database.HistoryLimit)
	}

	// Unset values keep their defaults
	if cfg.Scanner.MaxConcurrentScans != 2 {
		t.Errorf("Expected default max concurrent scans 2, got %d", cfg.Scanner.MaxConcurrentScans)
	}
	if !cfg.Scanner.EnableVersionDetection {
		t.Errorf("Expected version detection to stay enabled by default")
	}

	// The database directory should have been created
	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("Expected database directory to exist: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := New()
	if err := cfg.LoadConfig("/nonexistent/localscan.yaml"); err == nil {
		t.Errorf("Expected error for missing config file, got nil")
	}
}

func TestReload(t *testing.T) {
	// Create a temporary directory for the test
	tempDir, err := os.MkdirTemp("", "config-reload-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	// Create an initial config file
	configPath := filepath.Join(tempDir, "config.yaml")
	initialConfig := `
logging:
  level: "info"
database:
  path: "` + filepath.Join(tempDir, "a.db") + `"
`
	err = os.WriteFile(configPath, []byte(initialConfig), 0644)
	if err != nil {
		t.Fatalf("Failed to write initial config: %v", err)
	}

	// Load the initial configuration
	cfg := New()
	if err := cfg.LoadConfig(configPath); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.GetLogLevel() != "info" {
		t.Errorf("Expected initial level info, got %s", cfg.GetLogLevel())
	}

	// Update the config file
	updatedConfig := `
logging:
  level: "debug"
database:
  path: "` + filepath.Join(tempDir, "a.db") + `"
`
	err = os.WriteFile(configPath, []byte(updatedConfig), 0644)
	if err != nil {
		t.Fatalf("Failed to write updated config: %v", err)
	}

	// Reload the configuration
	if err := cfg.Reload(); err != nil {
		t.Errorf("Reload returned error: %v", err)
	}

	// Verify the updated value
	if cfg.GetLogLevel() != "debug" {
		t.Errorf("Expected updated level debug, got %s", cfg.GetLogLevel())
	}
}

func TestReloadRejectedKeepsSettings(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config-reload-invalid-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configPath := filepath.Join(tempDir, "config.yaml")
	valid := `
scanner:
  timeout: "30s"
database:
  path: "` + filepath.Join(tempDir, "a.db") + `"
`
	if err := os.WriteFile(configPath, []byte(valid), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg := New()
	if err := cfg.LoadConfig(configPath); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	invalid := `
scanner:
  timeout: "10s"
  maxConcurrentScans: 0
database:
  path: "` + filepath.Join(tempDir, "a.db") + `"
`
	if err := os.WriteFile(configPath, []byte(invalid), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if err := cfg.Reload(); err == nil {
		t.Fatal("Expected reload of an invalid file to fail")
	}

	if cfg.Scanner.Timeout != "30s" {
		t.Errorf("Expected timeout to stay 30s, got %s", cfg.Scanner.Timeout)
	}
	if cfg.Scanner.MaxConcurrentScans != 2 {
		t.Errorf("Expected max concurrent scans to stay 2, got %d", cfg.Scanner.MaxConcurrentScans)
	}
}

func TestSettingsDuringReload(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	writeConfig := func(timeout string) error {
		data := fmt.Sprintf(`
server:
  allowedOrigins: ["http://localhost:3000"]
scanner:
  timeout: %q
database:
  path: %q
`, timeout, filepath.Join(tempDir, "a.db"))
		return os.WriteFile(configPath, []byte(data), 0644)
	}

	if err := writeConfig("30s"); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg := New()
	if err := cfg.LoadConfig(configPath); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			timeout := "30s"
			if i%2 == 0 {
				timeout = "45s"
			}
			if err := writeConfig(timeout); err != nil {
				t.Errorf("Failed to write config: %v", err)
				return
			}
			if err := cfg.Reload(); err != nil {
				t.Errorf("Reload returned error: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				scanner := cfg.ScannerSettings()
				if scanner.Timeout != "30s" && scanner.Timeout != "45s" {
					t.Errorf("Unexpected timeout %q", scanner.Timeout)
					return
				}
				if origins := cfg.ServerSettings().AllowedOrigins; len(origins) != 1 {
					t.Errorf("Unexpected allowed origins %v", origins)
					return
				}
				_ = cfg.DatabaseSettings()
				_ = cfg.MetricsSettings()
			}
		}()
	}
	wg.Wait()
}

func TestServerSettingsCopiesOrigins(t *testing.T) {
	cfg := New()
	settings := cfg.ServerSettings()
	settings.AllowedOrigins[0] = "http://evil.example"

	if cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("Expected the configured origins to be unchanged, got %v", cfg.Server.AllowedOrigins)
	}
}

func TestReloadWithoutFile(t *testing.T) {
	cfg := New()
	if err := cfg.Reload(); err == nil {
		t.Errorf("Expected error when reloading a config that was never loaded")
	}
}

func TestGetScanTimeout(t *testing.T) {
	cfg := New()

	// Default timeout
	duration, err := cfg.GetScanTimeout()
	if err != nil {
		t.Errorf("GetScanTimeout returned error: %v", err)
	}
	if duration != 120*time.Second {
		t.Errorf("Expected default timeout 2m0s, got %v", duration)
	}

	cfg.Scanner.Timeout = "1m30s"
	duration, err = cfg.GetScanTimeout()
	if err != nil {
		t.Errorf("GetScanTimeout returned error: %v", err)
	}
	if duration != 90*time.Second {
		t.Errorf("Expected duration 1m30s, got %v", duration)
	}

	// Test invalid duration
	cfg.Scanner.Timeout = "invalid"
	if _, err := cfg.GetScanTimeout(); err == nil {
		t.Errorf("Expected error for invalid timeout, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"negative requests per second", func(c *Config) { c.Server.RequestsPerSecond = -1 }, true},
		{"unlimited requests", func(c *Config) { c.Server.RequestsPerSecond = 0 }, false},
		{"invalid timeout", func(c *Config) { c.Scanner.Timeout = "soon" }, true},
		{"zero timeout", func(c *Config) { c.Scanner.Timeout = "0s" }, true},
		{"write timeout shorter than scan", func(c *Config) {
			c.Scanner.Timeout = "200s"
			c.Server.WriteTimeout = 150
		}, true},
		{"no concurrent scans", func(c *Config) { c.Scanner.MaxConcurrentScans = 0 }, true},
		{"negative rate limit", func(c *Config) { c.Scanner.RateLimit = -5 }, true},
		{"unlimited rate", func(c *Config) { c.Scanner.RateLimit = 0 }, false},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid maintenance frequency", func(c *Config) { c.Database.MaintenanceFrequency = "daily" }, true},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"json log format", func(c *Config) { c.Logging.Format = "json" }, false},
		{"relative metrics endpoint", func(c *Config) { c.Metrics.Endpoint = "metrics" }, true},
		{"metrics disabled without endpoint", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Endpoint = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetConfigSingleton(t *testing.T) {
	if GetConfig() != GetConfig() {
		t.Errorf("Expected GetConfig to return the same instance")
	}
}
