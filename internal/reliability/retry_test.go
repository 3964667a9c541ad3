package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffPolicies(t *testing.T) {
	t.Run("fixed delay is constant", func(t *testing.T) {
		p := NewFixedDelay(30*time.Second, 0)
		assert.Equal(t, 30*time.Second, p.NextDelay(0))
		assert.Equal(t, 30*time.Second, p.NextDelay(10))
		assert.Equal(t, 0, p.MaxRetries())
	})

	t.Run("exponential backoff grows and caps", func(t *testing.T) {
		p := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 5)
		p.Jitter = false

		assert.Equal(t, 100*time.Millisecond, p.NextDelay(0))
		assert.Equal(t, 200*time.Millisecond, p.NextDelay(1))
		assert.Equal(t, 400*time.Millisecond, p.NextDelay(2))
		assert.Equal(t, time.Second, p.NextDelay(10))
	})

	t.Run("jitter stays within fifteen percent", func(t *testing.T) {
		p := NewExponentialBackoff(time.Second, time.Minute, 1.0, 0)
		for i := 0; i < 100; i++ {
			d := p.NextDelay(0)
			assert.GreaterOrEqual(t, d, 850*time.Millisecond)
			assert.LessOrEqual(t, d, 1150*time.Millisecond)
		}
	})
}

func TestSleep(t *testing.T) {
	t.Run("returns after the delay", func(t *testing.T) {
		assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	})

	t.Run("returns early on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		err := Sleep(ctx, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		errDB := errors.New("database unavailable")
		attempts := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 3), func() error {
			attempts++
			return errDB
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.ErrorIs(t, err, errDB)
	})

	t.Run("stops on non-retryable errors", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func() error {
			attempts++
			return RetryableError{Err: errors.New("bad credentials"), Retryable: false}
		})
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := Retry(ctx, NewFixedDelay(time.Hour, 0), func() error {
			return errors.New("always")
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
