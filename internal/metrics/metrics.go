// Package metrics exposes Prometheus metrics for the localscan service.
// Metrics are kept in a private registry rather than the global default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"localscan/internal/models"
)

const namespace = "localscan"

// Scan outcomes used as the "outcome" label
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Collector holds the service metrics
type Collector struct {
	registry           *prometheus.Registry
	scansTotal         *prometheus.CounterVec
	scanDuration       prometheus.Histogram
	portsFound         *prometheus.CounterVec
	scansInFlight      prometheus.Gauge
	validationFailures *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry
func NewCollector(enableRuntimeMetrics bool) *Collector {
	reg := prometheus.NewRegistry()

	if enableRuntimeMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}

	c := &Collector{
		registry: reg,
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Number of executed scans by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of executed scans.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		portsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ports_found_total",
			Help:      "Number of ports reported by scans, by state.",
		}, []string{"state"}),
		scansInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scans_in_flight",
			Help:      "Number of scans currently running.",
		}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Number of rejected scan requests by validation kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(c.scansTotal, c.scanDuration, c.portsFound, c.scansInFlight, c.validationFailures)
	return c
}

// ObserveScan records a finished scan
func (c *Collector) ObserveScan(outcome string, duration time.Duration) {
	c.scansTotal.WithLabelValues(outcome).Inc()
	c.scanDuration.Observe(duration.Seconds())
}

// AddPorts adds the counts of a scan summary to the per-state port counters
func (c *Collector) AddPorts(summary models.ScanSummary) {
	c.portsFound.WithLabelValues(string(models.StateOpen)).Add(float64(summary.OpenCount))
	c.portsFound.WithLabelValues(string(models.StateClosed)).Add(float64(summary.ClosedCount))
	c.portsFound.WithLabelValues(string(models.StateFiltered)).Add(float64(summary.FilteredCount))
	c.portsFound.WithLabelValues(string(models.StateUnknown)).Add(float64(summary.UnknownCount))
}

// ScanStarted marks a scan as in flight and returns the function that ends it
func (c *Collector) ScanStarted() func() {
	c.scansInFlight.Inc()
	return c.scansInFlight.Dec
}

// IncValidationFailure counts a rejected request
func (c *Collector) IncValidationFailure(kind string) {
	c.validationFailures.WithLabelValues(kind).Inc()
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler serving the registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
