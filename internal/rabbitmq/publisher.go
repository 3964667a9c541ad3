package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes persistent messages to durable queues through the default exchange.
type Publisher struct {
	conn           *ConnectionManager
	topology       *TopologyManager
	publishTimeout time.Duration
	logger         *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithPublishTimeout sets the publish timeout used when the caller's context has no deadline
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		if timeout > 0 {
			p.publishTimeout = timeout
		}
	}
}

// WithPublisherLogger sets the publisher logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a new publisher
func NewPublisher(conn *ConnectionManager, topology *TopologyManager, options ...PublisherOption) *Publisher {
	p := &Publisher{
		conn:           conn,
		topology:       topology,
		publishTimeout: 10 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// PublishToQueue declares queue if needed and publishes msg to it. The connection is
// opened on demand, bounded by ctx.
func (p *Publisher) PublishToQueue(ctx context.Context, queue string, msg amqp.Publishing) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	if !p.conn.IsConnected() {
		if err := p.conn.Connect(ctx); err != nil {
			return p.publishError(queue, err)
		}
	}

	if err := p.topology.EnsureQueue(ctx, DurableQueue(queue)); err != nil {
		return p.publishError(queue, err)
	}

	if msg.DeliveryMode == 0 {
		msg.DeliveryMode = amqp.Persistent
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	err := p.conn.WithChannel(ctx, func(ch Channel) error {
		return ch.PublishWithContext(ctx, "", queue, false, false, msg)
	})
	if err != nil {
		return p.publishError(queue, err)
	}

	p.logger.Debug("message published",
		"queue", queue,
		"correlationId", msg.CorrelationId,
		"messageId", msg.MessageId)
	return nil
}

func (p *Publisher) publishError(queue string, err error) error {
	return &PublishError{
		RoutingKey: queue,
		Err:        err,
		Timestamp:  time.Now(),
	}
}
