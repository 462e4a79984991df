package scanner

import (
	"strings"

	"localscan/internal/models"
)

// Classify normalizes raw tool output into port findings and host details.
// Unrecognized states degrade to unknown rather than failing.
func Classify(raw *RawScanOutput) ([]models.PortFinding, *models.HostInfo) {
	if raw == nil {
		return nil, nil
	}

	findings := make([]models.PortFinding, 0, len(raw.Ports))
	for _, p := range raw.Ports {
		findings = append(findings, models.PortFinding{
			Port:        p.Port,
			Protocol:    normalizeProtocol(p.Protocol),
			State:       normalizePortState(p.State),
			ServiceName: optional(p.Service),
			Product:     optional(p.Product),
			Version:     optional(p.Version),
			ExtraInfo:   optional(p.ExtraInfo),
		})
	}

	return findings, classifyHost(raw.Host)
}

// Group partitions findings by state, keeping the tool's order within each group
func Group(findings []models.PortFinding) models.Findings {
	var grouped models.Findings
	for _, f := range findings {
		switch f.State {
		case models.StateOpen:
			grouped.Open = append(grouped.Open, f)
		case models.StateClosed:
			grouped.Closed = append(grouped.Closed, f)
		case models.StateFiltered:
			grouped.Filtered = append(grouped.Filtered, f)
		default:
			grouped.Unknown = append(grouped.Unknown, f)
		}
	}
	return grouped
}

func classifyHost(raw *RawHost) *models.HostInfo {
	if raw == nil {
		return nil
	}

	info := &models.HostInfo{
		State:    normalizeHostState(raw.State),
		Hostname: optional(raw.Hostname),
	}
	for _, m := range raw.OSMatches {
		info.OSMatches = append(info.OSMatches, models.OSMatch{
			Name:     m.Name,
			Accuracy: clamp(m.Accuracy, 0, 100),
		})
	}
	return info
}

func normalizePortState(state string) models.PortState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "open":
		return models.StateOpen
	case "closed":
		return models.StateClosed
	case "filtered":
		return models.StateFiltered
	}
	// open|filtered, closed|filtered, unfiltered and anything else
	return models.StateUnknown
}

func normalizeHostState(state string) models.HostState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "up":
		return models.HostUp
	case "down":
		return models.HostDown
	}
	return models.HostUnknown
}

func normalizeProtocol(protocol string) string {
	p := strings.ToLower(strings.TrimSpace(protocol))
	if p == "" {
		return "tcp"
	}
	return p
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
