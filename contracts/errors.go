package contracts

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBody            = errors.New("contracts: empty message body")
	ErrMissingCorrelationID = errors.New("contracts: missing correlation id")
	ErrMissingPatientID     = errors.New("contracts: missing patient id")
)

// DecodeError means a message body could not be turned into the expected type.
// Such messages will never decode and must not be redelivered.
type DecodeError struct {
	Type string // Target type name
	Err  error  // Underlying error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("contracts: decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
