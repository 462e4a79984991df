// internal/api/history_handlers_test.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"localscan/internal/database"
	"localscan/internal/models"
)

// createTestScans stores count completed scans spaced one hour apart, newest first
func createTestScans(t *testing.T, db *database.DB, count int) []int64 {
	t.Helper()

	var ids []int64
	for i := 0; i < count; i++ {
		record := &models.ScanRecord{
			ScanID:       fmt.Sprintf("test-scan-%d", i),
			Target:       models.LocalTarget,
			PortRange:    "20-22",
			Timestamp:    time.Now().UTC().Add(-time.Duration(i) * time.Hour),
			DurationMs:   int64(1000 + i),
			TotalScanned: 3,
			OpenCount:    1,
			ClosedCount:  2,
			Status:       "completed",
			Ports: []*models.ScanPort{
				{PortNumber: 22, Protocol: "tcp", State: "open", ServiceName: "ssh"},
				{PortNumber: 20, Protocol: "tcp", State: "closed"},
				{PortNumber: 21, Protocol: "tcp", State: "closed"},
			},
		}
		id, err := db.SaveScan(record)
		if err != nil {
			t.Fatalf("Failed to create test scan: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func getJSON(t *testing.T, env *testEnv, path string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if out != nil && rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("Failed to decode response from %s: %v", path, err)
		}
	}
	return rr.Code
}

func TestGetHistory(t *testing.T) {
	env := setupTestEnvironment(t)
	ids := createTestScans(t, env.db, 15)

	var scans []*models.ScanRecord
	if code := getJSON(t, env, "/api/scan-history", &scans); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}

	if len(scans) != env.cfg.Database.HistoryLimit {
		t.Fatalf("Expected %d scans, got %d", env.cfg.Database.HistoryLimit, len(scans))
	}
	if scans[0].ID != ids[0] {
		t.Errorf("Expected newest scan %d first, got %d", ids[0], scans[0].ID)
	}
	for i := 1; i < len(scans); i++ {
		if scans[i].Timestamp.After(scans[i-1].Timestamp) {
			t.Errorf("Scans not ordered newest first at index %d", i)
		}
	}
}

func TestGetHistoryLimit(t *testing.T) {
	env := setupTestEnvironment(t)
	createTestScans(t, env.db, 5)

	var scans []*models.ScanRecord
	if code := getJSON(t, env, "/api/scan-history?limit=3", &scans); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if len(scans) != 3 {
		t.Errorf("Expected 3 scans, got %d", len(scans))
	}

	for _, bad := range []string{"abc", "0", "-1"} {
		if code := getJSON(t, env, "/api/scan-history?limit="+bad, nil); code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected status 400, got %d", bad, code)
		}
	}
}

func TestGetHistoryEmpty(t *testing.T) {
	env := setupTestEnvironment(t)

	req := httptest.NewRequest("GET", "/api/scan-history", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("Expected empty JSON array, got %q", body)
	}
}

func TestGetHistoryEntry(t *testing.T) {
	env := setupTestEnvironment(t)
	ids := createTestScans(t, env.db, 2)

	var scan models.ScanRecord
	if code := getJSON(t, env, fmt.Sprintf("/api/scan-history/%d", ids[1]), &scan); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if scan.ID != ids[1] || scan.ScanID != "test-scan-1" {
		t.Errorf("Unexpected scan: %+v", scan)
	}
	if len(scan.Ports) != 3 {
		t.Errorf("Expected 3 ports, got %d", len(scan.Ports))
	}

	if code := getJSON(t, env, "/api/scan-history/9999", nil); code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", code)
	}
}

func TestGetHistoryStats(t *testing.T) {
	env := setupTestEnvironment(t)

	// One real scan through the API plus stored ones
	if rr := postScan(t, env.router, `{"port_range": "20-22"}`); rr.Code != http.StatusOK {
		t.Fatalf("Scan failed with status %d", rr.Code)
	}
	createTestScans(t, env.db, 2)

	var stats models.HistoryStats
	if code := getJSON(t, env, "/api/scan-history/stats", &stats); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}

	if stats.TotalScans != 3 {
		t.Errorf("Expected 3 scans, got %d", stats.TotalScans)
	}
	if stats.FailedScans != 0 {
		t.Errorf("Expected 0 failed scans, got %d", stats.FailedScans)
	}
	if stats.PortDistribution[22] != 3 {
		t.Errorf("Expected port 22 open in 3 scans, got %d", stats.PortDistribution[22])
	}
	if stats.ServiceDistribution["ssh"] != 3 {
		t.Errorf("Expected ssh in 3 scans, got %d", stats.ServiceDistribution["ssh"])
	}
	if stats.LastScanTime.IsZero() {
		t.Errorf("Expected a last scan time")
	}
}
