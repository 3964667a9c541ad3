package messaging

import "errors"

var (
	ErrDuplicateCorrelationID = errors.New("messaging: correlation id already pending")
	ErrInvalidCorrelationID   = errors.New("messaging: correlation id is nil")
	ErrRequestFailed          = errors.New("messaging: request failed")
	ErrBrokerUnavailable      = errors.New("messaging: message broker not available")
	ErrSubscriptionLost       = errors.New("messaging: subscription lost")
)
