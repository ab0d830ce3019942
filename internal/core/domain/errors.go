package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Wrapped errors carry
// operation detail; callers test with errors.Is.
var (
	// ErrConfiguration covers unknown policy/strategy ids and an empty
	// registry at selection time. Surfaced synchronously at call time.
	ErrConfiguration = errors.New("configuration error")

	// ErrNonRetryable marks an error classified as non-retryable, or a
	// fatal action failure.
	ErrNonRetryable = errors.New("non-retryable error")

	// ErrRetryExhausted means every attempt of a policy failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrTimeout means an attempt or action exceeded its timeout.
	ErrTimeout = errors.New("operation timed out")

	// ErrCapacityExceeded means the concurrent-session cap was hit.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrCircuitOpen is a fail-fast result while a breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// NewConfigurationError wraps ErrConfiguration with a formatted detail.
func NewConfigurationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
