package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hms-platform/hms/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MedicalHistoryHandler is the domain side of a medical-history request. A nil history
// with a nil error means the patient has none.
type MedicalHistoryHandler interface {
	GetMedicalHistory(ctx context.Context, req contracts.MedicalHistoryRequest) (*contracts.MedicalHistory, error)
}

// MedicalHistoryHandlerFunc is a function adapter for MedicalHistoryHandler
type MedicalHistoryHandlerFunc func(ctx context.Context, req contracts.MedicalHistoryRequest) (*contracts.MedicalHistory, error)

func (f MedicalHistoryHandlerFunc) GetMedicalHistory(ctx context.Context, req contracts.MedicalHistoryRequest) (*contracts.MedicalHistory, error) {
	return f(ctx, req)
}

// Responder serves medical-history requests and publishes the reply to the requester.
type Responder struct {
	handler      MedicalHistoryHandler
	publisher    Publisher
	defaultReply string
	logger       *slog.Logger
}

// ResponderOption configures a Responder
type ResponderOption func(*Responder)

// WithDefaultReplyQueue sets where replies go when a request has no ReplyTo
func WithDefaultReplyQueue(queue string) ResponderOption {
	return func(r *Responder) {
		r.defaultReply = queue
	}
}

// WithResponderLogger sets the logger
func WithResponderLogger(logger *slog.Logger) ResponderOption {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResponder creates a responder answering with handler and replying through publisher
func NewResponder(handler MedicalHistoryHandler, publisher Publisher, options ...ResponderOption) *Responder {
	r := &Responder{
		handler:      handler,
		publisher:    publisher,
		defaultReply: contracts.MedicalHistoryResponseQueue,
		logger:       slog.Default(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// HandleDelivery implements DeliveryHandler.
func (r *Responder) HandleDelivery(ctx context.Context, d amqp.Delivery) Disposition {
	req, err := contracts.Decode[contracts.MedicalHistoryRequest](d.Body)
	if err != nil {
		r.logger.Error("Discarding undecodable request", "messageId", d.MessageId, "error", err)
		return Reject
	}

	logger := r.logger.With("correlationId", req.CorrelationID, "patientId", req.PatientID)
	logger.Info("Processing medical history request")

	resp := r.answer(ctx, req)
	if !resp.Success {
		logger.Warn("Medical history request failed", "error", resp.ErrorText())
	}

	replyTo := d.ReplyTo
	if replyTo == "" {
		replyTo = r.defaultReply
	}

	err = r.publisher.Publish(ctx, replyTo, resp,
		WithCorrelationID(req.CorrelationID),
		WithMessageType("MedicalHistoryResponse"),
	)
	if err != nil {
		if d.Redelivered {
			logger.Error("Failed to publish response for redelivered request, dropping", "replyTo", replyTo, "error", err)
			return Reject
		}
		logger.Error("Failed to publish response, requeueing request", "replyTo", replyTo, "error", err)
		return Requeue
	}

	logger.Debug("Published medical history response", "replyTo", replyTo, "success", resp.Success)
	return Ack
}

func (r *Responder) answer(ctx context.Context, req contracts.MedicalHistoryRequest) (resp contracts.MedicalHistoryResponse) {
	defer func() {
		if p := recover(); p != nil {
			resp = contracts.FailureResponse(req.CorrelationID, fmt.Sprintf("internal error: %v", p))
		}
	}()

	history, err := r.handler.GetMedicalHistory(ctx, req)
	if err != nil {
		return contracts.FailureResponse(req.CorrelationID, err.Error())
	}
	return contracts.SuccessResponse(req.CorrelationID, history)
}
