package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer opens subscriptions on the shared channel of a ConnectionManager.
type Consumer struct {
	conn          *ConnectionManager
	topology      *TopologyManager
	prefetchCount int
	tagPrefix     string
	logger        *slog.Logger
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		if count > 0 {
			c.prefetchCount = count
		}
	}
}

// WithConsumerTag sets the prefix of generated consumer tags
func WithConsumerTag(prefix string) ConsumerOption {
	return func(c *Consumer) {
		c.tagPrefix = prefix
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer creates a new consumer
func NewConsumer(conn *ConnectionManager, topology *TopologyManager, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		conn:          conn,
		topology:      topology,
		prefetchCount: 1,
		tagPrefix:     "hms",
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscription is one active basic.consume on a queue.
type Subscription struct {
	Queue       string
	ConsumerTag string

	deliveries <-chan amqp.Delivery
	conn       *ConnectionManager
}

// Deliveries returns the delivery stream. It is closed when the consumer is
// cancelled or the channel goes away.
func (s *Subscription) Deliveries() <-chan amqp.Delivery {
	return s.deliveries
}

// Cancel stops the broker from sending further deliveries. It is a no-op once the
// connection is gone.
func (s *Subscription) Cancel(ctx context.Context) error {
	err := s.conn.WithChannel(ctx, func(ch Channel) error {
		return ch.Cancel(s.ConsumerTag, false)
	})
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrChannelClosed) {
		return nil
	}
	if err != nil {
		return &ConsumerError{
			Queue:       s.Queue,
			ConsumerTag: s.ConsumerTag,
			Op:          "cancel",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}
	return nil
}

// Subscribe declares queue as durable, applies the prefetch limit and starts a
// manual-ack consumer on it.
func (c *Consumer) Subscribe(ctx context.Context, queue string) (*Subscription, error) {
	tag := fmt.Sprintf("%s-%s-%s", c.tagPrefix, queue, uuid.NewString())

	if err := c.topology.EnsureQueue(ctx, DurableQueue(queue)); err != nil {
		return nil, c.consumerError(queue, tag, err)
	}

	var deliveries <-chan amqp.Delivery
	err := c.conn.WithChannel(ctx, func(ch Channel) error {
		if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}

		d, err := ch.Consume(
			queue,
			tag,
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to start consuming: %w", err)
		}
		deliveries = d
		return nil
	})
	if err != nil {
		return nil, c.consumerError(queue, tag, err)
	}

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", tag,
		"prefetchCount", c.prefetchCount,
	)

	return &Subscription{
		Queue:       queue,
		ConsumerTag: tag,
		deliveries:  deliveries,
		conn:        c.conn,
	}, nil
}

func (c *Consumer) consumerError(queue, tag string, err error) error {
	return &ConsumerError{
		Queue:       queue,
		ConsumerTag: tag,
		Op:          "subscribe",
		Err:         err,
		Timestamp:   time.Now(),
	}
}
