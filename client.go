// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hms

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/internal/metrics"
	"github.com/hms-platform/hms/internal/rabbitmq"
	"github.com/hms-platform/hms/internal/reliability"
	"github.com/hms-platform/hms/messaging"
	rabbitmqTransport "github.com/hms-platform/hms/transports/rabbitmq"
)

// Client provides the main entry point for the services. It owns the broker
// connection, the request/response broker and the durable consumers of a process.
type Client struct {
	transport *rabbitmqTransport.Transport
	broker    messaging.Broker
	cfg       *clientConfig

	mu        sync.Mutex
	consumers []*messaging.DurableConsumer
}

// NewClient builds a client for url. It never fails: a missing or malformed URL, or a
// broker that cannot be reached at startup, leaves the client with a NoOpBroker. When
// the URL is valid the consumers still run and keep retrying until the broker appears.
// ctx bounds the startup connect and the lifetime of the response listener, which only
// runs when WithResponseListener is given.
func NewClient(ctx context.Context, url string, options ...ClientOption) *Client {
	cfg := defaultClientConfig()
	for _, opt := range options {
		opt(cfg)
	}

	c := &Client{cfg: cfg}

	if err := rabbitmq.ValidateURL(url); err != nil {
		cfg.logger.Warn("Message broker not configured, messaging disabled", "error", err)
		c.broker = messaging.NewNoOpBroker(cfg.logger)
		return c
	}

	transport, err := rabbitmqTransport.NewTransport(url, c.transportOptions()...)
	if err != nil {
		cfg.logger.Warn("Failed to create broker transport, messaging disabled", "error", err)
		c.broker = messaging.NewNoOpBroker(cfg.logger)
		return c
	}
	c.transport = transport
	if cfg.metrics != nil {
		transport.AddStateListener(cfg.metrics)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.connectionTimeout)
	defer cancel()
	if err := transport.Connect(connectCtx); err != nil {
		cfg.logger.Warn("Message broker not reachable at startup, requests disabled",
			"url", rabbitmq.SanitizeURL(url),
			"error", err)
		c.broker = messaging.NewNoOpBroker(cfg.logger)
		return c
	}

	broker := messaging.NewRabbitBroker(transport,
		messaging.WithRequestTimeout(cfg.requestTimeout),
		messaging.WithRetryInterval(cfg.retryInterval),
		messaging.WithListenerBackoff(c.retryBackoff()),
		messaging.WithListenerLiveness(cfg.livenessInterval),
		messaging.WithBrokerCircuitBreaker(cfg.circuitBreaker),
		messaging.WithBrokerLogger(cfg.logger),
		messaging.WithBrokerMetrics(cfg.metrics),
	)
	if cfg.responseListener {
		broker.Start(ctx)
	}
	c.broker = broker

	cfg.logger.Info("Connected to message broker", "url", rabbitmq.SanitizeURL(url))
	return c
}

// NewBroker returns the broker of a new client for url. Closing the broker closes the
// connection.
func NewBroker(ctx context.Context, url string, options ...ClientOption) messaging.Broker {
	return NewClient(ctx, url, options...).Broker()
}

// Broker returns the request/response broker
func (c *Client) Broker() messaging.Broker {
	return c.broker
}

// Transport returns the underlying transport, nil when messaging is disabled
func (c *Client) Transport() *rabbitmqTransport.Transport {
	return c.transport
}

// Consume registers a durable consumer for queue. It starts with Run. When messaging is
// disabled nil is returned.
func (c *Client) Consume(queue string, handler messaging.DeliveryHandler, options ...messaging.DurableConsumerOption) *messaging.DurableConsumer {
	if c.transport == nil {
		c.cfg.logger.Warn("Message broker not configured, consumer not started", "queue", queue)
		return nil
	}

	base := []messaging.DurableConsumerOption{
		messaging.WithBackoff(c.retryBackoff()),
		messaging.WithLivenessInterval(c.cfg.livenessInterval),
		messaging.WithConsumerLogger(c.cfg.logger),
		messaging.WithConsumerMetrics(c.cfg.metrics),
	}
	consumer := messaging.NewDurableConsumer(queue, c.transport, handler, append(base, options...)...)

	c.mu.Lock()
	c.consumers = append(c.consumers, consumer)
	c.mu.Unlock()
	return consumer
}

// ServeMedicalHistory answers medical-history requests with handler.
func (c *Client) ServeMedicalHistory(handler messaging.MedicalHistoryHandler, options ...messaging.DurableConsumerOption) *messaging.DurableConsumer {
	publisher := messaging.NewEventPublisher(c.transport,
		messaging.WithCircuitBreaker(c.cfg.circuitBreaker),
		messaging.WithPublisherLogger(c.cfg.logger),
		messaging.WithPublisherMetrics(c.cfg.metrics),
	)
	responder := messaging.NewResponder(handler, publisher, messaging.WithResponderLogger(c.cfg.logger))
	return c.Consume(c.cfg.requestQueue, responder, options...)
}

// Run runs every registered consumer until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	consumers := append([]*messaging.DurableConsumer(nil), c.consumers...)
	c.mu.Unlock()

	if len(consumers) == 0 {
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, consumer := range consumers {
		consumer := consumer
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}
	return g.Wait()
}

// Close stops the broker and closes the connection
func (c *Client) Close() error {
	if c.broker != nil {
		if err := c.broker.Close(); err != nil {
			return err
		}
	}
	// a RabbitBroker already closed the transport it runs on
	if _, ok := c.broker.(*messaging.RabbitBroker); !ok && c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

// retryBackoff is the reconnect backoff of every consumer. It doubles from the retry
// interval up to the max retry interval when one is set, otherwise it is fixed.
func (c *Client) retryBackoff() reliability.BackoffPolicy {
	if c.cfg.maxRetryInterval > c.cfg.retryInterval {
		return reliability.NewExponentialBackoff(c.cfg.retryInterval, c.cfg.maxRetryInterval, 2, 0)
	}
	return reliability.NewFixedDelay(c.cfg.retryInterval, 0)
}

func (c *Client) transportOptions() []rabbitmqTransport.TransportOption {
	cfg := c.cfg
	connOpts := []rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(cfg.logger),
		rabbitmq.WithHeartbeat(cfg.heartbeat),
		rabbitmq.WithConnectionTimeout(cfg.connectionTimeout),
		rabbitmq.WithRecovery(cfg.recoveryInterval, cfg.recoveryAttempts),
	}
	if cfg.connectionName != "" {
		connOpts = append(connOpts, rabbitmq.WithConnectionName(cfg.connectionName))
	}
	if cfg.dialer != nil {
		connOpts = append(connOpts, rabbitmq.WithDialer(cfg.dialer))
	}

	return []rabbitmqTransport.TransportOption{
		rabbitmqTransport.WithConnectionOptions(connOpts...),
		rabbitmqTransport.WithPublisherOptions(
			rabbitmq.WithPublisherLogger(cfg.logger),
			rabbitmq.WithPublishTimeout(cfg.requestTimeout),
		),
		rabbitmqTransport.WithConsumerOptions(
			rabbitmq.WithConsumerLogger(cfg.logger),
			rabbitmq.WithPrefetchCount(cfg.prefetchCount),
		),
	}
}

// clientConfig holds client configuration
type clientConfig struct {
	logger            *slog.Logger
	metrics           *metrics.Metrics
	dialer            rabbitmq.Dialer
	circuitBreaker    *reliability.CircuitBreaker
	connectionName    string
	requestQueue      string
	requestTimeout    time.Duration
	heartbeat         time.Duration
	connectionTimeout time.Duration
	recoveryInterval  time.Duration
	recoveryAttempts  int
	retryInterval     time.Duration
	maxRetryInterval  time.Duration
	livenessInterval  time.Duration
	prefetchCount     int
	responseListener  bool
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		logger:            slog.Default(),
		requestQueue:      contracts.MedicalHistoryRequestQueue,
		requestTimeout:    messaging.DefaultRequestTimeout,
		heartbeat:         60 * time.Second,
		connectionTimeout: 30 * time.Second,
		recoveryInterval:  10 * time.Second,
		recoveryAttempts:  3,
		retryInterval:     messaging.DefaultRetryInterval,
		livenessInterval:  messaging.DefaultLivenessInterval,
		prefetchCount:     1,
	}
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMetrics instruments all components
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = m
	}
}

// WithDialer replaces the AMQP dialer
func WithDialer(dialer rabbitmq.Dialer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = dialer
	}
}

// WithCircuitBreaker guards publishes with cb
func WithCircuitBreaker(cb *reliability.CircuitBreaker) ClientOption {
	return func(cfg *clientConfig) {
		cfg.circuitBreaker = cb
	}
}

// WithServiceName names the connection in the broker management UI
func WithServiceName(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectionName = name
	}
}

// WithRequestTimeout sets the default RPC and publish timeout
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.requestTimeout = d
		}
	}
}

// WithHeartbeat sets the AMQP heartbeat interval
func WithHeartbeat(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.heartbeat = d
	}
}

// WithConnectionTimeout bounds the startup connect and every dial
func WithConnectionTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.connectionTimeout = d
		}
	}
}

// WithRecovery sets the automatic connection recovery policy
func WithRecovery(interval time.Duration, attempts int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.recoveryInterval = interval
		cfg.recoveryAttempts = attempts
	}
}

// WithRetryInterval sets the consumer backoff while the broker is unavailable
func WithRetryInterval(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.retryInterval = d
		}
	}
}

// WithMaxRetryInterval switches consumers to exponential backoff from the retry
// interval up to d
func WithMaxRetryInterval(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.maxRetryInterval = d
	}
}

// WithLivenessInterval sets how often consumers poll the connection
func WithLivenessInterval(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.livenessInterval = d
		}
	}
}

// WithPrefetchCount sets the consumer prefetch
func WithPrefetchCount(n int) ClientOption {
	return func(cfg *clientConfig) {
		if n > 0 {
			cfg.prefetchCount = n
		}
	}
}

// WithResponseListener consumes the shared response queue so that RequestMedicalHistory
// can be answered. Only processes that issue requests should enable it: every listener
// competes for the same replies.
func WithResponseListener() ClientOption {
	return func(cfg *clientConfig) {
		cfg.responseListener = true
	}
}
