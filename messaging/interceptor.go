package messaging

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hms-platform/hms/internal/cache"
)

// Interceptor wraps delivery handling. It may settle a delivery itself by not
// calling next.
type Interceptor interface {
	Intercept(ctx context.Context, d amqp.Delivery, next DeliveryHandler) Disposition

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, d amqp.Delivery, next DeliveryHandler) Disposition
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, d amqp.Delivery, next DeliveryHandler) Disposition) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

func (i *InterceptorFunc) Intercept(ctx context.Context, d amqp.Delivery, next DeliveryHandler) Disposition {
	return i.fn(ctx, d, next)
}

func (i *InterceptorFunc) Name() string {
	return i.name
}

// Chain wraps handler so that interceptors run in the order given, the first one
// outermost.
func Chain(handler DeliveryHandler, interceptors ...Interceptor) DeliveryHandler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		next := handler
		handler = DeliveryHandlerFunc(func(ctx context.Context, d amqp.Delivery) Disposition {
			return interceptor.Intercept(ctx, d, next)
		})
	}
	return handler
}

// LoggingInterceptor logs every delivery with its disposition
type LoggingInterceptor struct {
	logger *slog.Logger
}

func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

func (i *LoggingInterceptor) Intercept(ctx context.Context, d amqp.Delivery, next DeliveryHandler) Disposition {
	start := time.Now()
	disposition := next.HandleDelivery(ctx, d)

	attrs := []any{
		"messageId", d.MessageId,
		"messageType", d.Type,
		"correlationId", d.CorrelationId,
		"redelivered", d.Redelivered,
		"disposition", disposition,
		"duration", time.Since(start),
	}
	if disposition == Ack {
		i.logger.Debug("Message processed", attrs...)
	} else {
		i.logger.Warn("Message not acknowledged", attrs...)
	}
	return disposition
}

func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MessageTypeFilter settles deliveries of unexpected types with skip instead of
// handling them. Deliveries without a type always pass.
type MessageTypeFilter struct {
	allowed map[string]bool
	skip    Disposition
	logger  *slog.Logger
}

func NewMessageTypeFilter(skip Disposition, logger *slog.Logger, allowedTypes ...string) *MessageTypeFilter {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = true
	}
	return &MessageTypeFilter{allowed: allowed, skip: skip, logger: logger}
}

func (f *MessageTypeFilter) Intercept(ctx context.Context, d amqp.Delivery, next DeliveryHandler) Disposition {
	if d.Type == "" || f.allowed[d.Type] {
		return next.HandleDelivery(ctx, d)
	}
	f.logger.Warn("Skipping message of unexpected type", "messageType", d.Type, "messageId", d.MessageId, "disposition", f.skip)
	return f.skip
}

func (f *MessageTypeFilter) Name() string {
	return "MessageTypeFilter"
}

// DuplicateDetector remembers processed message ids
type DuplicateDetector interface {
	IsDuplicate(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// DuplicateDetectionInterceptor acks deliveries whose MessageId was already
// processed. Only acked deliveries are remembered; deliveries without a
// MessageId are always handled.
type DuplicateDetectionInterceptor struct {
	detector DuplicateDetector
	logger   *slog.Logger
}

func NewDuplicateDetectionInterceptor(detector DuplicateDetector, logger *slog.Logger) *DuplicateDetectionInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicateDetectionInterceptor{detector: detector, logger: logger}
}

func (i *DuplicateDetectionInterceptor) Intercept(ctx context.Context, d amqp.Delivery, next DeliveryHandler) Disposition {
	if d.MessageId == "" {
		return next.HandleDelivery(ctx, d)
	}

	dup, err := i.detector.IsDuplicate(ctx, d.MessageId)
	if err != nil {
		i.logger.Warn("Duplicate check failed, processing anyway", "messageId", d.MessageId, "error", err)
	}
	if dup {
		i.logger.Info("Duplicate message acknowledged without processing", "messageId", d.MessageId)
		return Ack
	}

	disposition := next.HandleDelivery(ctx, d)
	if disposition == Ack {
		if err := i.detector.MarkProcessed(ctx, d.MessageId); err != nil {
			i.logger.Warn("Failed to record processed message", "messageId", d.MessageId, "error", err)
		}
	}
	return disposition
}

func (i *DuplicateDetectionInterceptor) Name() string {
	return "DuplicateDetectionInterceptor"
}

type cacheDetector struct {
	seen *cache.Cache[bool]
}

// NewCacheDuplicateDetector keeps processed ids in c until they expire.
func NewCacheDuplicateDetector(c *cache.Cache[bool]) DuplicateDetector {
	return &cacheDetector{seen: c}
}

func (d *cacheDetector) IsDuplicate(_ context.Context, messageID string) (bool, error) {
	_, ok := d.seen.Get(messageID)
	return ok, nil
}

func (d *cacheDetector) MarkProcessed(_ context.Context, messageID string) error {
	d.seen.Set(messageID, true)
	return nil
}
