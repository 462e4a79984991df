package scanner

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"localscan/internal/models"
)

// ValidationKind identifies why a port range was rejected
type ValidationKind string

const (
	KindMalformedRange ValidationKind = "malformed_range"
	KindOutOfBounds    ValidationKind = "out_of_bounds"
	KindRangeTooLarge  ValidationKind = "range_too_large"
)

var (
	ErrMalformedRange = errors.New("malformed port range")
	ErrOutOfBounds    = errors.New("port range out of bounds")
	ErrRangeTooLarge  = errors.New("port range too large")
)

// ValidationError is returned when a requested port range is rejected
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match the sentinel for the error kind
func (e *ValidationError) Unwrap() error {
	switch e.Kind {
	case KindMalformedRange:
		return ErrMalformedRange
	case KindOutOfBounds:
		return ErrOutOfBounds
	case KindRangeTooLarge:
		return ErrRangeTooLarge
	}
	return nil
}

const (
	minPort = 1
	maxPort = 65535
)

var rangePattern = regexp.MustCompile(`^(\d+)-(\d+)$`)

// ParsePortRange validates a "<start>-<end>" string and returns the range it denotes
func ParsePortRange(text string) (models.PortRange, error) {
	m := rangePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return models.PortRange{}, &ValidationError{
			Kind:    KindMalformedRange,
			Message: `invalid port range format, use "<start>-<end>" (for example "22-443")`,
		}
	}

	// Digit runs too long for an int are out of bounds, not malformed
	start, errStart := strconv.Atoi(m[1])
	end, errEnd := strconv.Atoi(m[2])
	if errStart != nil || errEnd != nil || start < minPort || end > maxPort || start > end {
		return models.PortRange{}, &ValidationError{
			Kind:    KindOutOfBounds,
			Message: fmt.Sprintf("invalid port range, use numbers between %d-%d with start <= end", minPort, maxPort),
		}
	}

	r := models.PortRange{Start: start, End: end}
	if r.Span() > models.MaxPortSpan {
		return models.PortRange{}, &ValidationError{
			Kind:    KindRangeTooLarge,
			Message: fmt.Sprintf("port range too large, at most %d ports per scan", models.MaxPortSpan),
		}
	}

	return r, nil
}
