package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ContentType is set on every published message.
const ContentType = "application/json"

// Encode serializes a message to UTF-8 JSON.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode %T: %w", v, err)
	}
	return data, nil
}

// Decode parses data into a T. An empty body, a JSON null and a message failing its own
// Validate are all reported as *DecodeError.
func Decode[T any](data []byte) (T, error) {
	var v T
	name := fmt.Sprintf("%T", v)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return v, &DecodeError{Type: name, Err: ErrEmptyBody}
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return v, &DecodeError{Type: name, Err: ErrEmptyBody}
	}

	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, &DecodeError{Type: name, Err: err}
	}

	if val, ok := any(v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, &DecodeError{Type: name, Err: err}
		}
	}
	return v, nil
}
