package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCircuitOpen        = errors.New("circuit breaker: circuit is open")
	ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")
)

// CircuitBreakerError is returned while the breaker refuses calls
type CircuitBreakerError struct {
	Name      string
	State     State
	Failures  int
	NextRetry time.Time
}

func (e *CircuitBreakerError) Error() string {
	retryIn := time.Until(e.NextRetry).Round(time.Millisecond)
	return fmt.Sprintf("circuit breaker %s %s: call blocked (failures=%d, retry in %v)",
		e.Name, e.State, e.Failures, retryIn)
}

func (e *CircuitBreakerError) Unwrap() error {
	return ErrCircuitOpen
}

// RetryError reports that every attempt failed
type RetryError struct {
	Attempts  int
	LastError error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.LastError)
}

// Unwrap exposes both the sentinel and the last underlying error.
func (e *RetryError) Unwrap() []error {
	return []error{ErrMaxRetriesExceeded, e.LastError}
}
