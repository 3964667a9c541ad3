// Package rabbitmq adapts the internal RabbitMQ connection, topology, publisher and
// consumer to messaging.Transport.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/hms-platform/hms/internal/rabbitmq"
	"github.com/hms-platform/hms/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ messaging.Transport = (*Transport)(nil)

// Transport implements messaging.Transport for RabbitMQ
type Transport struct {
	manager   *rabbitmq.ConnectionManager
	topology  *rabbitmq.TopologyManager
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	PublisherOptions  []rabbitmq.PublisherOption
	ConsumerOptions   []rabbitmq.ConsumerOption
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithConsumerOptions sets consumer options
func WithConsumerOptions(opts ...rabbitmq.ConsumerOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, opts...)
	}
}

// NewTransport creates a new RabbitMQ transport. The URL is validated but no
// connection is opened until Connect, Publish or Subscribe is called.
func NewTransport(connectionString string, options ...TransportOption) (*Transport, error) {
	if err := rabbitmq.ValidateURL(connectionString); err != nil {
		return nil, err
	}

	cfg := &TransportConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	manager := rabbitmq.NewConnectionManager(connectionString, cfg.ConnectionOptions...)
	topology := rabbitmq.NewTopologyManager(manager)

	return &Transport{
		manager:   manager,
		topology:  topology,
		publisher: rabbitmq.NewPublisher(manager, topology, cfg.PublisherOptions...),
		consumer:  rabbitmq.NewConsumer(manager, topology, cfg.ConsumerOptions...),
	}, nil
}

// Connect establishes connection to the broker
func (t *Transport) Connect(ctx context.Context) error {
	return t.manager.Connect(ctx)
}

// IsConnected returns connection status
func (t *Transport) IsConnected() bool {
	return t.manager.IsConnected()
}

// Lost returns a channel closed when the current connection goes away
func (t *Transport) Lost() <-chan struct{} {
	return t.manager.Lost()
}

// State returns the connection state
func (t *Transport) State() rabbitmq.ConnectionState {
	return t.manager.State()
}

// AddStateListener registers a connection state listener
func (t *Transport) AddStateListener(listener rabbitmq.ConnectionStateListener) {
	t.manager.AddStateListener(listener)
}

// Publish sends msg to the durable queue
func (t *Transport) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	return t.publisher.PublishToQueue(ctx, queue, msg)
}

// Subscribe starts a manual-ack consumer on the durable queue
func (t *Transport) Subscribe(ctx context.Context, queue string) (messaging.Subscription, error) {
	sub, err := t.consumer.Subscribe(ctx, queue)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", queue, err)
	}
	return sub, nil
}

// Close closes all resources
func (t *Transport) Close() error {
	return t.manager.Close()
}
