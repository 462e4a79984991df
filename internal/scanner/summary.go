package scanner

import "localscan/internal/models"

// Aggregate counts findings per group. Unknown findings are part of the total.
func Aggregate(findings models.Findings) models.ScanSummary {
	s := models.ScanSummary{
		OpenCount:     len(findings.Open),
		ClosedCount:   len(findings.Closed),
		FilteredCount: len(findings.Filtered),
		UnknownCount:  len(findings.Unknown),
	}
	s.TotalScanned = s.OpenCount + s.ClosedCount + s.FilteredCount + s.UnknownCount
	return s
}
