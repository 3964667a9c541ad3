package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCircuitBreaker(t *testing.T) {
	errBroker := errors.New("broker down")
	fail := func() error { return errBroker }
	succeed := func() error { return nil }

	t.Run("starts in closed state", func(t *testing.T) {
		cb := NewCircuitBreaker()
		assert.Equal(t, StateClosed, cb.State())
		assert.NoError(t, cb.Execute(context.Background(), succeed))
	})

	t.Run("opens after failure threshold and blocks calls", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(3), WithName("events"))

		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBroker)
		}
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(context.Background(), func() error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.ErrorIs(t, err, ErrCircuitOpen)

		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, "events", cbErr.Name)
		assert.Equal(t, 3, cbErr.Failures)
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))

		_ = cb.Execute(context.Background(), fail)
		_ = cb.Execute(context.Background(), succeed)
		_ = cb.Execute(context.Background(), fail)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open trial closes on success", func(t *testing.T) {
		clock := &fakeClock{now: time.Now()}
		var transitions []string
		cb := NewCircuitBreaker(
			WithFailureThreshold(1),
			WithTimeout(time.Second),
			withClock(clock.Now),
			WithStateChange(func(name string, from, to State) {
				transitions = append(transitions, from.String()+"->"+to.String())
			}),
		)

		_ = cb.Execute(context.Background(), fail)
		clock.Advance(2 * time.Second)

		assert.NoError(t, cb.Execute(context.Background(), succeed))
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
	})

	t.Run("half-open trial failure reopens", func(t *testing.T) {
		clock := &fakeClock{now: time.Now()}
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithTimeout(time.Second), withClock(clock.Now))

		_ = cb.Execute(context.Background(), fail)
		clock.Advance(2 * time.Second)
		_ = cb.Execute(context.Background(), fail)

		assert.Equal(t, StateOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
	})

	t.Run("cancelled context is not a failure", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		ctx, cancel := context.WithCancel(context.Background())

		err := cb.Execute(ctx, func() error {
			cancel()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("reset closes the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		_ = cb.Execute(context.Background(), fail)
		cb.Reset()
		assert.Equal(t, StateClosed, cb.State())
	})
}
