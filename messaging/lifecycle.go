package messaging

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hms-platform/hms/internal/metrics"
	"github.com/hms-platform/hms/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumerState is the lifecycle state of a DurableConsumer
type ConsumerState int32

const (
	ConsumerIdle ConsumerState = iota
	ConsumerConnecting
	ConsumerSubscribed
	ConsumerReconnecting
	ConsumerStopped
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerIdle:
		return "idle"
	case ConsumerConnecting:
		return "connecting"
	case ConsumerSubscribed:
		return "subscribed"
	case ConsumerReconnecting:
		return "reconnecting"
	case ConsumerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	DefaultGraceDelay       = 10 * time.Second
	DefaultRetryInterval    = 30 * time.Second
	DefaultLivenessInterval = 30 * time.Second

	cancelTimeout = 5 * time.Second
)

// DurableConsumer keeps a subscription on one queue alive for as long as Run is running.
// It connects lazily, retries with a backoff while the broker is unavailable and
// resubscribes after every connection loss.
type DurableConsumer struct {
	queue     string
	transport Transport
	handler   DeliveryHandler

	graceDelay time.Duration
	backoff    reliability.BackoffPolicy
	liveness   time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	observer   func(ConsumerState)

	state atomic.Int32
}

// DurableConsumerOption configures a DurableConsumer
type DurableConsumerOption func(*DurableConsumer)

// WithGraceDelay sets how long Run waits before the first connect
func WithGraceDelay(d time.Duration) DurableConsumerOption {
	return func(c *DurableConsumer) {
		c.graceDelay = d
	}
}

// WithBackoff sets the wait between failed connects and after a loss
func WithBackoff(policy reliability.BackoffPolicy) DurableConsumerOption {
	return func(c *DurableConsumer) {
		if policy != nil {
			c.backoff = policy
		}
	}
}

// WithLivenessInterval sets how often the connection is polled while subscribed
func WithLivenessInterval(d time.Duration) DurableConsumerOption {
	return func(c *DurableConsumer) {
		if d > 0 {
			c.liveness = d
		}
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) DurableConsumerOption {
	return func(c *DurableConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConsumerMetrics enables instrumentation
func WithConsumerMetrics(m *metrics.Metrics) DurableConsumerOption {
	return func(c *DurableConsumer) {
		c.metrics = m
	}
}

// WithStateObserver registers fn to be called on every state change. fn runs on the
// consumer goroutine and must not block.
func WithStateObserver(fn func(ConsumerState)) DurableConsumerOption {
	return func(c *DurableConsumer) {
		c.observer = fn
	}
}

// NewDurableConsumer creates a consumer for queue. Nothing happens until Run is called.
func NewDurableConsumer(queue string, transport Transport, handler DeliveryHandler, options ...DurableConsumerOption) *DurableConsumer {
	c := &DurableConsumer{
		queue:      queue,
		transport:  transport,
		handler:    handler,
		graceDelay: DefaultGraceDelay,
		backoff:    reliability.NewFixedDelay(DefaultRetryInterval, 0),
		liveness:   DefaultLivenessInterval,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Queue returns the consumed queue name
func (c *DurableConsumer) Queue() string {
	return c.queue
}

// State returns the current lifecycle state
func (c *DurableConsumer) State() ConsumerState {
	return ConsumerState(c.state.Load())
}

// Run blocks until ctx is done. Broker failures are logged and retried, never returned.
func (c *DurableConsumer) Run(ctx context.Context) error {
	defer c.setState(ConsumerStopped)
	logger := c.logger.With("queue", c.queue)

	logger.Info("Starting consumer", "graceDelay", c.graceDelay)
	if err := reliability.Sleep(ctx, c.graceDelay); err != nil {
		return nil
	}

	attempt := 0
	for {
		c.setState(ConsumerConnecting)

		sub, lost, err := c.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := c.backoff.NextDelay(attempt)
			attempt++
			logger.Warn("Consumer could not subscribe, retrying", "error", err, "attempt", attempt, "retryIn", delay)
			if err := reliability.Sleep(ctx, delay); err != nil {
				return nil
			}
			continue
		}

		attempt = 0
		c.setState(ConsumerSubscribed)
		logger.Info("Consumer subscribed")

		err = c.consume(ctx, sub, lost)
		c.cancel(sub)
		if ctx.Err() != nil {
			logger.Info("Consumer stopped")
			return nil
		}

		c.setState(ConsumerReconnecting)
		c.metrics.RecordConsumerRestart(c.queue)
		delay := c.backoff.NextDelay(0)
		logger.Warn("Consumer lost its subscription, reconnecting", "error", err, "retryIn", delay)
		if err := reliability.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (c *DurableConsumer) subscribe(ctx context.Context) (Subscription, <-chan struct{}, error) {
	if !c.transport.IsConnected() {
		if err := c.transport.Connect(ctx); err != nil {
			return nil, nil, err
		}
	}

	lost := c.transport.Lost()
	sub, err := c.transport.Subscribe(ctx, c.queue)
	if err != nil {
		return nil, nil, err
	}
	return sub, lost, nil
}

func (c *DurableConsumer) consume(ctx context.Context, sub Subscription, lost <-chan struct{}) error {
	ticker := time.NewTicker(c.liveness)
	defer ticker.Stop()

	deliveries := sub.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lost:
			return ErrSubscriptionLost
		case <-ticker.C:
			if !c.transport.IsConnected() {
				return ErrSubscriptionLost
			}
		case d, ok := <-deliveries:
			if !ok {
				return ErrSubscriptionLost
			}
			c.process(ctx, d)
		}
	}
}

func (c *DurableConsumer) process(ctx context.Context, d amqp.Delivery) {
	disposition := c.handle(ctx, d)
	if err := settle(d, disposition); err != nil {
		c.logger.Error("Failed to settle delivery",
			"queue", c.queue,
			"messageId", d.MessageId,
			"disposition", disposition.String(),
			"error", err)
	}
	c.metrics.RecordMessageProcessed(c.queue, disposition.String())
}

func (c *DurableConsumer) handle(ctx context.Context, d amqp.Delivery) (disposition Disposition) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panicked", "queue", c.queue, "messageId", d.MessageId, "panic", r)
			disposition = Reject
		}
	}()
	return c.handler.HandleDelivery(ctx, d)
}

func (c *DurableConsumer) cancel(sub Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := sub.Cancel(ctx); err != nil {
		c.logger.Debug("Failed to cancel subscription", "queue", c.queue, "error", err)
	}
}

func (c *DurableConsumer) setState(s ConsumerState) {
	if ConsumerState(c.state.Swap(int32(s))) == s {
		return
	}
	c.metrics.SetConsumerState(c.queue, int(s))
	if c.observer != nil {
		c.observer(s)
	}
}
