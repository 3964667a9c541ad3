package messaging

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Transport is the broker connection the messaging components run on.
type Transport interface {
	// Connect opens the connection if needed. It is bounded by ctx.
	Connect(ctx context.Context) error

	// IsConnected returns connection status
	IsConnected() bool

	// Lost returns a channel closed when the current connection goes away
	Lost() <-chan struct{}

	// Publish sends msg to the durable queue, declaring it on first use
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error

	// Subscribe starts a manual-ack consumer on the durable queue
	Subscribe(ctx context.Context, queue string) (Subscription, error)

	// Close closes all resources
	Close() error
}

// Subscription is an active consumer.
type Subscription interface {
	Deliveries() <-chan amqp.Delivery
	Cancel(ctx context.Context) error
}
