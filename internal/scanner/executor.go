package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"localscan/internal/config"
	"localscan/internal/models"
)

// RawPort is a single port as reported by the scan tool, before classification
type RawPort struct {
	Port      int
	Protocol  string
	State     string
	Service   string
	Product   string
	Version   string
	ExtraInfo string
}

// RawOSMatch is an OS guess as reported by the scan tool
type RawOSMatch struct {
	Name     string
	Accuracy int
}

// RawHost is the host-level information reported by the scan tool
type RawHost struct {
	State     string
	Hostname  string
	OSMatches []RawOSMatch
}

// RawScanOutput is the tool-neutral output of a single scan
type RawScanOutput struct {
	Ports []RawPort
	Host  *RawHost
}

// Executor runs a port scan against a target
type Executor interface {
	Execute(ctx context.Context, portRange models.PortRange, target string) (*RawScanOutput, error)
}

// ExecutionKind identifies why a scan could not be executed
type ExecutionKind string

const (
	KindToolUnavailable   ExecutionKind = "tool_unavailable"
	KindTimeout           ExecutionKind = "timeout"
	KindPermissionDenied  ExecutionKind = "permission_denied"
	KindUnparseableOutput ExecutionKind = "unparseable_output"
	KindToolFailed        ExecutionKind = "tool_failed"
)

// ExecutionError is returned when the scan tool cannot produce a result
type ExecutionError struct {
	Kind   ExecutionKind
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	return e.Reason
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NmapExecutor runs scans through the nmap binary
type NmapExecutor struct {
	config *config.Config
	sem    *semaphore.Weighted
	logger zerolog.Logger
}

// NewNmapExecutor creates an executor bounded by the configured number of concurrent scans
func NewNmapExecutor(cfg *config.Config) *NmapExecutor {
	limit := cfg.ScannerSettings().MaxConcurrentScans
	if limit <= 0 {
		limit = 1
	}
	return &NmapExecutor{
		config: cfg,
		sem:    semaphore.NewWeighted(int64(limit)),
		logger: log.With().Str("component", "executor").Logger(),
	}
}

// nmapResult holds the outcome of a single nmap run
type nmapResult struct {
	run      *nmap.Run
	warnings *[]string
	err      error
}

// Execute scans the local host for the given range. Any other target is ignored.
func (e *NmapExecutor) Execute(ctx context.Context, portRange models.PortRange, target string) (*RawScanOutput, error) {
	if target != "" && target != models.LocalTarget {
		e.logger.Warn().
			Str("requestedTarget", target).
			Str("target", models.LocalTarget).
			Msg("Ignoring requested target, scanning local host only")
	}
	target = models.LocalTarget

	// Settings are read once per scan; Reload may run concurrently
	settings := e.config.ScannerSettings()

	timeout, err := time.ParseDuration(settings.Timeout)
	if err != nil {
		return nil, &ExecutionError{Kind: KindToolFailed, Reason: fmt.Sprintf("invalid scan timeout: %v", err), Err: err}
	}

	// A client disconnect must not kill a running scan, only the timeout does
	scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	// Waiting for a free slot counts toward the timeout
	if err := e.sem.Acquire(scanCtx, 1); err != nil {
		return nil, timeoutError(timeout, err)
	}
	defer e.sem.Release(1)

	scanner, err := nmap.NewScanner(scanCtx, scanOptions(settings, target, portRange)...)
	if err != nil {
		return nil, classifyExecutionError(err, nil)
	}

	e.logger.Debug().
		Str("target", target).
		Str("portRange", portRange.String()).
		Dur("timeout", timeout).
		Msg("Executing nmap scan")

	resultCh := make(chan nmapResult, 1)
	go func() {
		run, warnings, err := scanner.Run()
		resultCh <- nmapResult{run: run, warnings: warnings, err: err}
	}()

	var res nmapResult
	select {
	case <-scanCtx.Done():
		e.logger.Warn().Str("portRange", portRange.String()).Dur("timeout", timeout).Msg("nmap scan timed out")
		return nil, timeoutError(timeout, scanCtx.Err())
	case res = <-resultCh:
	}

	var warnings []string
	if res.warnings != nil {
		warnings = *res.warnings
	}
	if len(warnings) > 0 {
		e.logger.Warn().Strs("warnings", warnings).Msg("nmap reported warnings")
	}

	if res.err != nil {
		if scanCtx.Err() != nil {
			return nil, timeoutError(timeout, res.err)
		}
		return nil, classifyExecutionError(res.err, warnings)
	}
	if res.run == nil {
		return nil, &ExecutionError{Kind: KindUnparseableOutput, Reason: "nmap produced no result"}
	}

	return convertRun(res.run), nil
}

// scanOptions builds the nmap options for one scan
func scanOptions(settings config.ScannerConfig, target string, portRange models.PortRange) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(target),
		nmap.WithPorts(portRange.String()),
	}

	if settings.NmapPath != "" {
		options = append(options, nmap.WithBinaryPath(settings.NmapPath))
	}

	if settings.SynScan {
		options = append(options, nmap.WithSYNScan())
	} else {
		options = append(options, nmap.WithConnectScan())
	}

	if settings.EnableVersionDetection {
		options = append(options, nmap.WithServiceInfo())
	}

	if settings.EnableOSDetection {
		options = append(options, nmap.WithOSDetection())
	}

	if settings.DisablePing {
		options = append(options, nmap.WithSkipHostDiscovery())
	}

	if settings.RateLimit > 0 {
		options = append(options, nmap.WithMaxRate(settings.RateLimit))
	}

	return options
}

func timeoutError(timeout time.Duration, err error) *ExecutionError {
	return &ExecutionError{Kind: KindTimeout, Reason: fmt.Sprintf("scan timed out after %s", timeout), Err: err}
}

// classifyExecutionError maps a tool failure to its execution error kind
func classifyExecutionError(err error, warnings []string) *ExecutionError {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}

	detail := err.Error()
	if len(warnings) > 0 {
		detail = detail + ": " + strings.Join(warnings, "; ")
	}
	lower := strings.ToLower(detail)

	switch {
	case errors.Is(err, nmap.ErrScanTimeout), errors.Is(err, context.DeadlineExceeded):
		return &ExecutionError{Kind: KindTimeout, Reason: "scan timed out", Err: err}
	case errors.Is(err, nmap.ErrNmapNotInstalled),
		errors.Is(err, exec.ErrNotFound),
		errors.Is(err, fs.ErrNotExist),
		strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "executable file not found"):
		return &ExecutionError{Kind: KindToolUnavailable, Reason: "nmap is not installed or could not be found", Err: err}
	case errors.Is(err, fs.ErrPermission),
		strings.Contains(lower, "root privileges"),
		strings.Contains(lower, "operation not permitted"),
		strings.Contains(lower, "permission denied"):
		return &ExecutionError{Kind: KindPermissionDenied, Reason: "nmap lacks the privileges required for this scan", Err: err}
	case errors.Is(err, nmap.ErrParseOutput):
		return &ExecutionError{Kind: KindUnparseableOutput, Reason: "nmap output could not be parsed", Err: err}
	}

	return &ExecutionError{Kind: KindToolFailed, Reason: fmt.Sprintf("nmap error: %s", detail), Err: err}
}

// convertRun converts an nmap run into tool-neutral output. Only the first host is used
// since a scan always targets a single address.
func convertRun(run *nmap.Run) *RawScanOutput {
	out := &RawScanOutput{}
	if len(run.Hosts) == 0 {
		return out
	}

	h := run.Hosts[0]
	host := &RawHost{State: string(h.Status.State)}
	if len(h.Hostnames) > 0 {
		host.Hostname = h.Hostnames[0].Name
	}
	for _, m := range h.OS.Matches {
		host.OSMatches = append(host.OSMatches, RawOSMatch{Name: m.Name, Accuracy: int(m.Accuracy)})
	}
	out.Host = host

	out.Ports = make([]RawPort, 0, len(h.Ports))
	for _, p := range h.Ports {
		out.Ports = append(out.Ports, RawPort{
			Port:      int(p.ID),
			Protocol:  string(p.Protocol),
			State:     string(p.State.State),
			Service:   p.Service.Name,
			Product:   p.Service.Product,
			Version:   p.Service.Version,
			ExtraInfo: p.Service.ExtraInfo,
		})
	}

	return out
}
