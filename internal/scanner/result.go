package scanner

import (
	"time"

	"localscan/internal/models"
)

// timeNow is the clock used to stamp results, hookable for tests
var timeNow = time.Now

// Build assembles the scan result. When scanErr is set the port groups, summary and
// host details are left empty and only the envelope, duration and error are populated.
func Build(
	target string,
	portRange models.PortRange,
	findings models.Findings,
	summary models.ScanSummary,
	hostInfo *models.HostInfo,
	duration time.Duration,
	scanErr error,
) models.ScanResult {
	result := models.ScanResult{
		Target:    target,
		PortRange: portRange,
		Timestamp: timeNow().UTC(),
		Duration:  duration,
	}

	if scanErr != nil {
		result.Error = scanErr.Error()
		return result
	}

	result.Findings = findings
	result.Summary = summary
	result.HostInfo = hostInfo
	return result
}
