package anchor

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for live anchor calls.
type ErrorCategory string

const (
	// ErrorTimeout indicates the anchor took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorProviderOutage indicates the anchor endpoint is unreachable
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorBadData indicates the anchor returned an unexpected result
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates signing or account problems
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorNotFound indicates the hash is not anchored
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorInternal indicates an unexpected internal error
	ErrorInternal ErrorCategory = "internal"
)

// ProviderError wraps live anchor failures with normalized categorization.
// Callers of Client never see these from Submit or Confirm; they are logged
// and carried in Outcome.Cause.
type ProviderError struct {
	Category   ErrorCategory
	Method     string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("anchor %s [%s]: %s: %v", e.Method, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("anchor %s [%s]: %s", e.Method, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError creates a categorized anchor error.
func NewProviderError(category ErrorCategory, method, message string, underlying error) *ProviderError {
	retryable := category == ErrorTimeout || category == ErrorProviderOutage
	return &ProviderError{
		Category:   category,
		Method:     method,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable reports whether err is worth retrying on a later call.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the category, treating context deadlines as timeouts.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorInternal
}

var (
	// ErrUnavailable is returned by queries that need a live anchor when the
	// client runs in simulated mode or the circuit is open.
	ErrUnavailable = errors.New("anchor unavailable")

	// ErrCircuitOpen is the Outcome.Cause of submissions short-circuited by
	// the breaker.
	ErrCircuitOpen = errors.New("anchor circuit open")

	// ErrNotAnchored is returned when the anchor has no entry for a hash.
	ErrNotAnchored = errors.New("hash not anchored")
)
