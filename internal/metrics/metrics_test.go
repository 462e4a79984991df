// internal/metrics/metrics_test.go
package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"localscan/internal/models"
)

func TestObserveScan(t *testing.T) {
	c := NewCollector(false)

	c.ObserveScan(OutcomeSuccess, 2*time.Second)
	c.ObserveScan(OutcomeSuccess, time.Second)
	c.ObserveScan(OutcomeError, 0)

	if got := testutil.ToFloat64(c.scansTotal.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Errorf("Expected 2 successful scans, got %v", got)
	}
	if got := testutil.ToFloat64(c.scansTotal.WithLabelValues(OutcomeError)); got != 1 {
		t.Errorf("Expected 1 failed scan, got %v", got)
	}
	if got := testutil.CollectAndCount(c.scanDuration); got != 1 {
		t.Errorf("Expected one duration histogram, got %d", got)
	}
}

func TestAddPorts(t *testing.T) {
	c := NewCollector(false)

	c.AddPorts(models.ScanSummary{TotalScanned: 4, OpenCount: 1, ClosedCount: 2, UnknownCount: 1})
	c.AddPorts(models.ScanSummary{TotalScanned: 1, OpenCount: 1})

	if got := testutil.ToFloat64(c.portsFound.WithLabelValues("open")); got != 2 {
		t.Errorf("Expected 2 open ports, got %v", got)
	}
	if got := testutil.ToFloat64(c.portsFound.WithLabelValues("closed")); got != 2 {
		t.Errorf("Expected 2 closed ports, got %v", got)
	}
	if got := testutil.ToFloat64(c.portsFound.WithLabelValues("unknown")); got != 1 {
		t.Errorf("Expected 1 unknown port, got %v", got)
	}
}

func TestScansInFlight(t *testing.T) {
	c := NewCollector(false)

	done1 := c.ScanStarted()
	done2 := c.ScanStarted()
	if got := testutil.ToFloat64(c.scansInFlight); got != 2 {
		t.Errorf("Expected 2 scans in flight, got %v", got)
	}

	done1()
	done2()
	if got := testutil.ToFloat64(c.scansInFlight); got != 0 {
		t.Errorf("Expected 0 scans in flight, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector(false)
	c.IncValidationFailure("range_too_large")

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), `localscan_validation_failures_total{kind="range_too_large"} 1`) {
		t.Errorf("Expected validation failure metric in output, got:\n%s", body)
	}
}
