package messaging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/internal/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ResponseListener completes pending requests from deliveries on the response queue.
type ResponseListener struct {
	registry *MedicalHistoryRegistry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// ListenerOption configures a ResponseListener
type ListenerOption func(*ResponseListener)

// WithListenerLogger sets the logger
func WithListenerLogger(logger *slog.Logger) ListenerOption {
	return func(l *ResponseListener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithListenerMetrics enables instrumentation
func WithListenerMetrics(m *metrics.Metrics) ListenerOption {
	return func(l *ResponseListener) {
		l.metrics = m
	}
}

// NewResponseListener creates a listener resolving entries of registry
func NewResponseListener(registry *MedicalHistoryRegistry, options ...ListenerOption) *ResponseListener {
	l := &ResponseListener{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// HandleDelivery decodes a response and resolves its pending request. Responses nobody is
// waiting for are acknowledged and dropped.
func (l *ResponseListener) HandleDelivery(ctx context.Context, d amqp.Delivery) Disposition {
	resp, err := contracts.Decode[contracts.MedicalHistoryResponse](d.Body)
	if err != nil {
		l.logger.Error("Discarding undecodable response", "messageId", d.MessageId, "error", err)
		return Reject
	}

	if resp.CorrelationID == uuid.Nil {
		id, err := uuid.Parse(d.CorrelationId)
		if err != nil {
			l.logger.Error("Discarding response without correlation id", "messageId", d.MessageId)
			return Reject
		}
		resp.CorrelationID = id
	}

	if !l.registry.Resolve(resp.CorrelationID, resp) {
		l.logger.Warn("No pending request for response", "correlationId", resp.CorrelationID)
		l.metrics.RecordOrphanResponse()
		return Ack
	}

	l.logger.Debug("Resolved pending request", "correlationId", resp.CorrelationID, "success", resp.Success)
	return Ack
}
