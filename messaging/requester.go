package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/internal/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultRequestTimeout bounds a request when the caller passes no timeout
	DefaultRequestTimeout = 10 * time.Second

	medicalHistoryOperation = "medical_history"
)

// MedicalHistoryRegistry is the registry shared by a Requester and its ResponseListener.
type MedicalHistoryRegistry = Registry[contracts.MedicalHistoryResponse]

// Requester sends medical-history requests and waits for the correlated reply.
type Requester struct {
	transport    Transport
	registry     *MedicalHistoryRegistry
	requestQueue string
	replyQueue   string
	timeout      time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// RequesterOption configures a Requester
type RequesterOption func(*Requester)

// WithRequestQueue sets the queue requests are published to
func WithRequestQueue(queue string) RequesterOption {
	return func(r *Requester) {
		r.requestQueue = queue
	}
}

// WithReplyQueue sets the queue named in ReplyTo
func WithReplyQueue(queue string) RequesterOption {
	return func(r *Requester) {
		r.replyQueue = queue
	}
}

// WithDefaultTimeout sets the timeout used when a call passes none
func WithDefaultTimeout(timeout time.Duration) RequesterOption {
	return func(r *Requester) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithRequesterLogger sets the logger
func WithRequesterLogger(logger *slog.Logger) RequesterOption {
	return func(r *Requester) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRequesterMetrics enables instrumentation
func WithRequesterMetrics(m *metrics.Metrics) RequesterOption {
	return func(r *Requester) {
		r.metrics = m
	}
}

// NewRequester creates a requester publishing on transport and completing through registry.
func NewRequester(transport Transport, registry *MedicalHistoryRegistry, options ...RequesterOption) *Requester {
	r := &Requester{
		transport:    transport,
		registry:     registry,
		requestQueue: contracts.MedicalHistoryRequestQueue,
		replyQueue:   contracts.MedicalHistoryResponseQueue,
		timeout:      DefaultRequestTimeout,
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// RequestMedicalHistory publishes req and blocks until the reply arrives, the timeout
// passes, or ctx is cancelled. A timeout is reported in the response with a nil error.
// Transport failures return a failed response and an error wrapping ErrRequestFailed.
func (r *Requester) RequestMedicalHistory(ctx context.Context, req contracts.MedicalHistoryRequest, timeout time.Duration) (contracts.MedicalHistoryResponse, error) {
	if req.CorrelationID == uuid.Nil {
		req.CorrelationID = uuid.New()
	}
	if timeout <= 0 {
		timeout = r.timeout
	}
	id := req.CorrelationID
	start := time.Now()

	body, err := contracts.Encode(req)
	if err != nil {
		return r.fail(id, start, err)
	}

	pending, err := r.registry.Register(id, timeout)
	if err != nil {
		return r.fail(id, start, err)
	}
	r.metrics.SetPending(r.registry.Len())
	defer func() { r.metrics.SetPending(r.registry.Len()) }()

	logger := r.logger.With("correlationId", id, "patientId", req.PatientID)
	logger.Debug("Sending medical history request", "queue", r.requestQueue, "timeout", timeout)

	pubCtx, cancel := context.WithDeadline(ctx, pending.Deadline())
	err = r.transport.Publish(pubCtx, r.requestQueue, amqp.Publishing{
		ContentType:   contracts.ContentType,
		CorrelationId: id.String(),
		ReplyTo:       r.replyQueue,
		MessageId:     uuid.NewString(),
		Type:          "MedicalHistoryRequest",
		DeliveryMode:  amqp.Persistent,
		Body:          body,
	})
	cancel()
	if err != nil {
		if r.registry.Cancel(id) {
			logger.Error("Failed to publish medical history request", "error", err)
			return r.fail(id, start, err)
		}
		// already completed concurrently; report that outcome
	}

	select {
	case <-pending.Done():
	case <-ctx.Done():
		if r.registry.Cancel(id) {
			logger.Warn("Medical history request cancelled", "error", ctx.Err())
			r.metrics.RecordRequest(medicalHistoryOperation, Cancelled.String(), time.Since(start))
			return contracts.FailureResponse(id, contracts.CancelledMessage), ctx.Err()
		}
		<-pending.Done()
	}

	outcome := pending.Outcome()
	r.metrics.RecordRequest(medicalHistoryOperation, outcome.Resolution.String(), time.Since(start))

	switch outcome.Resolution {
	case Resolved:
		logger.Debug("Received medical history response", "success", outcome.Value.Success, "elapsed", time.Since(start))
		return outcome.Value, nil
	case Expired:
		logger.Warn("Medical history request timed out", "timeout", timeout)
		return contracts.TimeoutResponse(id), nil
	default:
		if err := ctx.Err(); err != nil {
			return contracts.FailureResponse(id, contracts.CancelledMessage), err
		}
		return contracts.FailureResponse(id, contracts.CancelledMessage), context.Canceled
	}
}

func (r *Requester) fail(id uuid.UUID, start time.Time, err error) (contracts.MedicalHistoryResponse, error) {
	r.metrics.RecordRequest(medicalHistoryOperation, "failed", time.Since(start))
	return contracts.FailureResponse(id, "Request failed: "+err.Error()), requestFailed(err)
}

func requestFailed(err error) error {
	if errors.Is(err, ErrRequestFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRequestFailed, err)
}
