package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/internal/metrics"
	"github.com/hms-platform/hms/internal/reliability"
)

// Broker is what the services depend on for messaging.
type Broker interface {
	Publisher

	// RequestMedicalHistory asks the medical-history service for a patient's history
	RequestMedicalHistory(ctx context.Context, patientID uuid.UUID, document string) (contracts.MedicalHistoryResponse, error)

	// PublishMedicalHistoryResponse sends resp to replyTo
	PublishMedicalHistoryResponse(ctx context.Context, replyTo string, resp contracts.MedicalHistoryResponse) error

	// Available reports whether the broker connection is currently up
	Available() bool

	// Name identifies the implementation
	Name() string

	Close() error
}

// BrokerConfig holds the settings of a RabbitBroker
type BrokerConfig struct {
	RequestTimeout   time.Duration
	RetryInterval    time.Duration
	Backoff          reliability.BackoffPolicy
	LivenessInterval time.Duration
	CircuitBreaker   *reliability.CircuitBreaker
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// BrokerOption configures a RabbitBroker
type BrokerOption func(*BrokerConfig)

// WithRequestTimeout sets the default RPC timeout
func WithRequestTimeout(timeout time.Duration) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.RequestTimeout = timeout
	}
}

// WithRetryInterval sets the backoff of the response listener
func WithRetryInterval(d time.Duration) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.RetryInterval = d
	}
}

// WithListenerBackoff replaces the fixed RetryInterval backoff of the response listener
func WithListenerBackoff(policy reliability.BackoffPolicy) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.Backoff = policy
	}
}

// WithListenerLiveness sets the liveness interval of the response listener
func WithListenerLiveness(d time.Duration) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.LivenessInterval = d
	}
}

// WithBrokerCircuitBreaker guards publishes with cb
func WithBrokerCircuitBreaker(cb *reliability.CircuitBreaker) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.CircuitBreaker = cb
	}
}

// WithBrokerLogger sets the logger
func WithBrokerLogger(logger *slog.Logger) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.Logger = logger
	}
}

// WithBrokerMetrics enables instrumentation
func WithBrokerMetrics(m *metrics.Metrics) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.Metrics = m
	}
}

// RabbitBroker is the Broker backed by a RabbitMQ transport.
type RabbitBroker struct {
	transport Transport
	registry  *MedicalHistoryRegistry
	requester *Requester
	publisher *EventPublisher
	listener  *DurableConsumer
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRabbitBroker wires a requester, a publisher and the response listener on transport.
// Call Start to begin receiving responses.
func NewRabbitBroker(transport Transport, options ...BrokerOption) *RabbitBroker {
	cfg := &BrokerConfig{
		RequestTimeout:   DefaultRequestTimeout,
		RetryInterval:    DefaultRetryInterval,
		LivenessInterval: DefaultLivenessInterval,
		Logger:           slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Backoff == nil {
		cfg.Backoff = reliability.NewFixedDelay(cfg.RetryInterval, 0)
	}

	registry := NewRegistry[contracts.MedicalHistoryResponse]()

	return &RabbitBroker{
		transport: transport,
		registry:  registry,
		requester: NewRequester(transport, registry,
			WithDefaultTimeout(cfg.RequestTimeout),
			WithRequesterLogger(cfg.Logger),
			WithRequesterMetrics(cfg.Metrics),
		),
		publisher: NewEventPublisher(transport,
			WithCircuitBreaker(cfg.CircuitBreaker),
			WithPublisherLogger(cfg.Logger),
			WithPublisherMetrics(cfg.Metrics),
		),
		listener: NewDurableConsumer(contracts.MedicalHistoryResponseQueue, transport,
			NewResponseListener(registry,
				WithListenerLogger(cfg.Logger),
				WithListenerMetrics(cfg.Metrics),
			),
			WithGraceDelay(0),
			WithBackoff(cfg.Backoff),
			WithLivenessInterval(cfg.LivenessInterval),
			WithConsumerLogger(cfg.Logger),
			WithConsumerMetrics(cfg.Metrics),
		),
		logger: cfg.Logger,
	}
}

// Start runs the response listener in the background until ctx is done or Close is called.
// Calling Start again while running is a no-op.
func (b *RabbitBroker) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		_ = b.listener.Run(ctx)
	}(b.done)
}

// ListenerState returns the lifecycle state of the response listener
func (b *RabbitBroker) ListenerState() ConsumerState {
	return b.listener.State()
}

// Pending returns the number of requests waiting for a response
func (b *RabbitBroker) Pending() int {
	return b.registry.Len()
}

func (b *RabbitBroker) RequestMedicalHistory(ctx context.Context, patientID uuid.UUID, document string) (contracts.MedicalHistoryResponse, error) {
	return b.requester.RequestMedicalHistory(ctx, contracts.NewMedicalHistoryRequest(patientID, document), 0)
}

func (b *RabbitBroker) PublishMedicalHistoryResponse(ctx context.Context, replyTo string, resp contracts.MedicalHistoryResponse) error {
	if replyTo == "" {
		replyTo = contracts.MedicalHistoryResponseQueue
	}
	return b.publisher.Publish(ctx, replyTo, resp,
		WithCorrelationID(resp.CorrelationID),
		WithMessageType("MedicalHistoryResponse"),
	)
}

func (b *RabbitBroker) Publish(ctx context.Context, destination string, message any, opts ...PublishOption) error {
	return b.publisher.Publish(ctx, destination, message, opts...)
}

func (b *RabbitBroker) Available() bool {
	return b.transport.IsConnected()
}

func (b *RabbitBroker) Name() string {
	return "rabbitmq"
}

// Close stops the response listener and closes the transport.
func (b *RabbitBroker) Close() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return b.transport.Close()
}

// NoOpBroker stands in when no broker is configured or reachable. Requests fail
// immediately and publishes are dropped.
type NoOpBroker struct {
	logger *slog.Logger
}

// NewNoOpBroker creates a NoOpBroker
func NewNoOpBroker(logger *slog.Logger) *NoOpBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoOpBroker{logger: logger}
}

func (b *NoOpBroker) RequestMedicalHistory(ctx context.Context, patientID uuid.UUID, document string) (contracts.MedicalHistoryResponse, error) {
	b.logger.Warn("Message broker not available, medical history request skipped", "patientId", patientID)
	return contracts.FailureResponse(uuid.New(), contracts.UnavailableMessage), ErrBrokerUnavailable
}

func (b *NoOpBroker) PublishMedicalHistoryResponse(ctx context.Context, replyTo string, resp contracts.MedicalHistoryResponse) error {
	b.logger.Debug("Message broker not available, response dropped", "correlationId", resp.CorrelationID)
	return nil
}

func (b *NoOpBroker) Publish(ctx context.Context, destination string, message any, opts ...PublishOption) error {
	b.logger.Debug("Message broker not available, message dropped", "queue", destination)
	return nil
}

func (b *NoOpBroker) Available() bool {
	return false
}

func (b *NoOpBroker) Name() string {
	return "noop"
}

func (b *NoOpBroker) Close() error {
	return nil
}
