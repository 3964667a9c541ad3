package reliability

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is called synchronously on every transition.
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker stops calling a failing dependency for a cool-down period.
// After the timeout one trial call is let through; its result closes or reopens
// the circuit.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	trialActive bool

	failureThreshold int
	timeout          time.Duration
	name             string
	now              func() time.Time
	onStateChange    StateChangeFunc
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if threshold > 0 {
			cb.failureThreshold = threshold
		}
	}
}

// WithTimeout sets how long the circuit stays open
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.timeout = timeout
	}
}

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithStateChange registers a transition callback
func WithStateChange(fn StateChangeFunc) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

func withClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: 5,
		timeout:          30 * time.Second,
		name:             "default",
		now:              time.Now,
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Execute runs fn unless the circuit is open. Context errors returned by fn do not
// count as failures of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn()
	if ctx.Err() != nil && err != nil {
		cb.release()
		return err
	}
	cb.record(err)
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.trialActive = false
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()

	switch cb.state {
	case StateOpen:
		next := cb.openedAt.Add(cb.timeout)
		if cb.now().Before(next) {
			err := &CircuitBreakerError{Name: cb.name, State: cb.state, Failures: cb.failures, NextRetry: next}
			cb.mu.Unlock()
			return err
		}
		cb.state = StateHalfOpen
		cb.trialActive = true
		cb.mu.Unlock()
		cb.notify(StateOpen, StateHalfOpen)
		return nil

	case StateHalfOpen:
		if cb.trialActive {
			err := &CircuitBreakerError{Name: cb.name, State: cb.state, Failures: cb.failures, NextRetry: cb.now()}
			cb.mu.Unlock()
			return err
		}
		cb.trialActive = true
	}

	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.trialActive = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	from := cb.state
	cb.trialActive = false

	if err == nil {
		cb.failures = 0
		cb.state = StateClosed
	} else {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}
