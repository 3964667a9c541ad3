// Package rabbitmq provides the RabbitMQ plumbing used by the HMS services.
//
// This package includes:
//   - ConnectionManager: owns one connection and its channel, with bounded automatic recovery
//   - TopologyManager: declares the durable queues the services use
//   - Publisher: publishes persistent messages through the default exchange
//   - Consumer: opens manual-ack subscriptions with a prefetch limit
//
// Connection and Channel are narrow interfaces over amqp091-go so the manager can be
// driven by an in-memory broker in tests.
package rabbitmq
