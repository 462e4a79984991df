// Package models defines the data structures used throughout the localscan service.
// It contains the port scan value objects (ranges, findings, host details, summaries
// and results), the HTTP request/response shapes, and the scan history records kept
// in the database.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// LocalTarget is the only host the service will ever scan
const LocalTarget = "127.0.0.1"

// MaxPortSpan is the largest number of ports a single scan may cover
const MaxPortSpan = 1000

// PortState is the reachability state of a scanned port
type PortState string

const (
	StateOpen     PortState = "open"
	StateClosed   PortState = "closed"
	StateFiltered PortState = "filtered"
	StateUnknown  PortState = "unknown"
)

// HostState is the reachability state of the scanned host
type HostState string

const (
	HostUp      HostState = "up"
	HostDown    HostState = "down"
	HostUnknown HostState = "unknown"
)

// PortRange is a validated, closed interval of port numbers
type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// String renders the range in "<start>-<end>" form
func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Span returns the number of ports covered by the range
func (r PortRange) Span() int {
	return r.End - r.Start + 1
}

// PortFinding is one port's observed state plus optional service metadata
type PortFinding struct {
	Port        int       `json:"port"`
	Protocol    string    `json:"protocol"`
	State       PortState `json:"state"`
	ServiceName *string   `json:"name,omitempty"`
	Product     *string   `json:"product,omitempty"`
	Version     *string   `json:"version,omitempty"`
	ExtraInfo   *string   `json:"extrainfo,omitempty"`
}

// OSMatch is a single OS detection guess
type OSMatch struct {
	Name     string `json:"name"`
	Accuracy int    `json:"accuracy"`
}

// HostInfo describes the scanned host when the tool reports it
type HostInfo struct {
	State     HostState `json:"state"`
	Hostname  *string   `json:"hostname,omitempty"`
	OSMatches []OSMatch `json:"os_matches,omitempty"`
}

// Findings groups port findings by state, preserving tool order within each group
type Findings struct {
	Open     []PortFinding
	Closed   []PortFinding
	Filtered []PortFinding
	Unknown  []PortFinding // not serialized, kept for count checks
}

// All returns every finding in open, closed, filtered, unknown order
func (f Findings) All() []PortFinding {
	all := make([]PortFinding, 0, len(f.Open)+len(f.Closed)+len(f.Filtered)+len(f.Unknown))
	all = append(all, f.Open...)
	all = append(all, f.Closed...)
	all = append(all, f.Filtered...)
	all = append(all, f.Unknown...)
	return all
}

// ScanSummary holds the aggregate counts of a scan
type ScanSummary struct {
	TotalScanned  int `json:"total_ports_scanned"`
	OpenCount     int `json:"open_ports_count"`
	ClosedCount   int `json:"closed_ports_count"`
	FilteredCount int `json:"filtered_ports_count"`
	UnknownCount  int `json:"-"`
}

// ScanResult is the one-shot outcome of a scan request. It is built once and
// never mutated afterwards.
type ScanResult struct {
	Target    string
	PortRange PortRange
	Timestamp time.Time
	Findings  Findings
	Summary   ScanSummary
	HostInfo  *HostInfo
	Duration  time.Duration
	Error     string
}

// Failed reports whether the scan could not be executed
func (r ScanResult) Failed() bool {
	return r.Error != ""
}

// ScanRequest is the body accepted by POST /api/scan
type ScanRequest struct {
	PortRange string `json:"port_range"`
	Target    string `json:"target,omitempty"` // accepted but never honored
}

// PortLists is the "results" object of a successful scan response
type PortLists struct {
	OpenPorts     []PortFinding `json:"open_ports"`
	ClosedPorts   []PortFinding `json:"closed_ports"`
	FilteredPorts []PortFinding `json:"filtered_ports"`
	HostInfo      *HostInfo     `json:"host_info,omitempty"`
}

// ScanFailure is the "results" object of a scan that failed during execution
type ScanFailure struct {
	Error string `json:"error"`
}

// ScanResponse is the wire envelope returned for every executed scan
type ScanResponse struct {
	Target    string      `json:"target"`
	PortRange string      `json:"port_range"`
	Timestamp string      `json:"timestamp"`
	Summary   ScanSummary `json:"summary"`
	Results   interface{} `json:"results"`
	Duration  float64     `json:"duration,omitempty"` // seconds
}

// Response converts the result into its wire envelope
func (r ScanResult) Response() ScanResponse {
	resp := ScanResponse{
		Target:    r.Target,
		PortRange: r.PortRange.String(),
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
		Summary:   r.Summary,
		Duration:  r.Duration.Seconds(),
	}

	if r.Failed() {
		resp.Results = ScanFailure{Error: r.Error}
		return resp
	}

	resp.Results = PortLists{
		OpenPorts:     nonNil(r.Findings.Open),
		ClosedPorts:   nonNil(r.Findings.Closed),
		FilteredPorts: nonNil(r.Findings.Filtered),
		HostInfo:      r.HostInfo,
	}
	return resp
}

// MarshalJSON encodes the result as its wire envelope
func (r ScanResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Response())
}

func nonNil(findings []PortFinding) []PortFinding {
	if findings == nil {
		return []PortFinding{}
	}
	return findings
}

// ErrorResponse is the body returned for rejected requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// ScanRecord is a scan outcome stored in the history database
type ScanRecord struct {
	ID            int64           `json:"id"`
	ScanID        string          `json:"scanId"`
	Target        string          `json:"target"`
	PortRange     string          `json:"portRange"`
	Timestamp     time.Time       `json:"timestamp"`
	DurationMs    int64           `json:"durationMs"`
	TotalScanned  int             `json:"totalScanned"`
	OpenCount     int             `json:"openCount"`
	ClosedCount   int             `json:"closedCount"`
	FilteredCount int             `json:"filteredCount"`
	Status        string          `json:"status"` // completed, error
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Ports         []*ScanPort     `json:"ports,omitempty"`
}

// ScanPort is a single finding stored with a scan record
type ScanPort struct {
	ID          int64  `json:"id"`
	ScanID      int64  `json:"scanId"`
	PortNumber  int    `json:"portNumber"`
	Protocol    string `json:"protocol"`
	State       string `json:"state"`
	ServiceName string `json:"serviceName,omitempty"`
	Product     string `json:"product,omitempty"`
	Version     string `json:"version,omitempty"`
}

// HistoryStats summarizes the stored scan history
type HistoryStats struct {
	TotalScans          int            `json:"totalScans"`
	FailedScans         int            `json:"failedScans"`
	PortDistribution    map[int]int    `json:"portDistribution"`
	ServiceDistribution map[string]int `json:"serviceDistribution"`
	LastScanTime        time.Time      `json:"lastScanTime"`
}

// CommonPort is a well-known port and the service usually found on it
type CommonPort struct {
	Port    int    `json:"port"`
	Service string `json:"service"`
}
