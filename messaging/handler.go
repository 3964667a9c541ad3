package messaging

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Disposition tells the consumer loop how to settle a delivery.
type Disposition int

const (
	// Ack removes the message from the queue
	Ack Disposition = iota
	// Reject drops the message without redelivery
	Reject
	// Requeue returns the message to the queue for another attempt
	Requeue
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// DeliveryHandler processes one delivery and decides its disposition.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, delivery amqp.Delivery) Disposition
}

// DeliveryHandlerFunc is a function adapter for DeliveryHandler
type DeliveryHandlerFunc func(ctx context.Context, delivery amqp.Delivery) Disposition

func (f DeliveryHandlerFunc) HandleDelivery(ctx context.Context, delivery amqp.Delivery) Disposition {
	return f(ctx, delivery)
}

// settle applies d to delivery.
func settle(delivery amqp.Delivery, d Disposition) error {
	switch d {
	case Ack:
		return delivery.Ack(false)
	case Requeue:
		return delivery.Nack(false, true)
	default:
		return delivery.Nack(false, false)
	}
}
