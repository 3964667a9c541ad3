package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/internal/metrics"
	"github.com/hms-platform/hms/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends one-way messages to a queue
type Publisher interface {
	Publish(ctx context.Context, destination string, message any, opts ...PublishOption) error
}

// PublishOptions configures a single publish
type PublishOptions struct {
	CorrelationID string
	ReplyTo       string
	MessageType   string
}

// PublishOption configures publish behavior
type PublishOption func(*PublishOptions)

// WithCorrelationID sets the AMQP correlation id property
func WithCorrelationID(id uuid.UUID) PublishOption {
	return func(opts *PublishOptions) {
		opts.CorrelationID = id.String()
	}
}

// WithReplyTo sets the reply queue
func WithReplyTo(queue string) PublishOption {
	return func(opts *PublishOptions) {
		opts.ReplyTo = queue
	}
}

// WithMessageType overrides the type property, which defaults to the Go type name
func WithMessageType(messageType string) PublishOption {
	return func(opts *PublishOptions) {
		opts.MessageType = messageType
	}
}

// EventPublisher publishes persistent messages without waiting for a consumer.
type EventPublisher struct {
	transport      Transport
	circuitBreaker *reliability.CircuitBreaker
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// EventPublisherOption configures an EventPublisher
type EventPublisherOption func(*EventPublisher)

// WithCircuitBreaker fails publishes fast while the broker keeps failing
func WithCircuitBreaker(cb *reliability.CircuitBreaker) EventPublisherOption {
	return func(p *EventPublisher) {
		p.circuitBreaker = cb
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) EventPublisherOption {
	return func(p *EventPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPublisherMetrics enables instrumentation
func WithPublisherMetrics(m *metrics.Metrics) EventPublisherOption {
	return func(p *EventPublisher) {
		p.metrics = m
	}
}

// NewEventPublisher creates a publisher on transport
func NewEventPublisher(transport Transport, options ...EventPublisherOption) *EventPublisher {
	p := &EventPublisher{
		transport: transport,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Publish encodes message as JSON and sends it to the durable destination queue.
func (p *EventPublisher) Publish(ctx context.Context, destination string, message any, opts ...PublishOption) error {
	options := PublishOptions{MessageType: messageTypeName(message)}
	for _, opt := range opts {
		opt(&options)
	}

	body, err := contracts.Encode(message)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:   contracts.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now(),
		Type:          options.MessageType,
		CorrelationId: options.CorrelationID,
		ReplyTo:       options.ReplyTo,
		Body:          body,
	}

	publish := func() error {
		return p.transport.Publish(ctx, destination, msg)
	}
	if p.circuitBreaker != nil {
		err = p.circuitBreaker.Execute(ctx, publish)
	} else {
		err = publish()
	}
	p.metrics.RecordPublish(destination, err)
	if err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", options.MessageType, destination, err)
	}

	p.logger.Debug("Published message", "queue", destination, "type", options.MessageType, "messageId", msg.MessageId)
	return nil
}

func messageTypeName(message any) string {
	t := reflect.TypeOf(message)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// NewEventHandler adapts fn to a DeliveryHandler. Undecodable messages are rejected,
// fn errors requeue the message.
func NewEventHandler[T any](fn func(ctx context.Context, event T) error, logger *slog.Logger) DeliveryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return DeliveryHandlerFunc(func(ctx context.Context, d amqp.Delivery) Disposition {
		event, err := contracts.Decode[T](d.Body)
		if err != nil {
			logger.Error("Discarding undecodable event", "messageId", d.MessageId, "type", d.Type, "error", err)
			return Reject
		}

		if err := fn(ctx, event); err != nil {
			logger.Error("Event handler failed, requeueing", "messageId", d.MessageId, "type", d.Type, "error", err)
			return Requeue
		}
		return Ack
	})
}
