// Package reliability provides the retry, backoff and circuit breaker primitives
// used by the broker consumers and publishers.
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithFailureThreshold(5),
//	    WithTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return publish(ctx, msg)
//	})
package reliability
