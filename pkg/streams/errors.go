package streams

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when credentials are missing or empty.
	ErrConfiguration = errors.New("streams: configuration error")
	// ErrInvalidRequest is returned when method or path cannot be signed.
	ErrInvalidRequest = errors.New("streams: invalid request")
	// ErrMalformedInput is returned when a raw report fails prefix/hex validation.
	ErrMalformedInput = errors.New("streams: malformed input")
	// ErrTruncatedBuffer is returned when a field lies beyond the decoded payload.
	ErrTruncatedBuffer = errors.New("streams: truncated buffer")
	// ErrOverflow is returned when a word does not fit the target numeric type.
	ErrOverflow = errors.New("streams: numeric overflow")
)

// DecodeError describes why a raw report could not be decoded.
// Kind is one of ErrMalformedInput, ErrTruncatedBuffer or ErrOverflow.
type DecodeError struct {
	Kind   error
	Mode   Mode
	Field  string
	Offset int // first byte of the offending field
	Length int // decoded buffer length in bytes
	Detail string
}

func (e *DecodeError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrTruncatedBuffer):
		return fmt.Sprintf("%v: mode=%s field=%s offset=%d length=%d", e.Kind, e.Mode, e.Field, e.Offset, e.Length)
	case e.Field != "":
		return fmt.Sprintf("%v: mode=%s field=%s: %s", e.Kind, e.Mode, e.Field, e.Detail)
	default:
		return fmt.Sprintf("%v: mode=%s: %s", e.Kind, e.Mode, e.Detail)
	}
}

// Unwrap returns the error kind so callers can use errors.Is.
func (e *DecodeError) Unwrap() error {
	return e.Kind
}

// ErrorCode maps a core error to a stable API code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformedInput):
		return "ERR_MALFORMED_INPUT"
	case errors.Is(err, ErrTruncatedBuffer):
		return "ERR_TRUNCATED_BUFFER"
	case errors.Is(err, ErrOverflow):
		return "ERR_OVERFLOW"
	case errors.Is(err, ErrConfiguration):
		return "ERR_CONFIGURATION"
	case errors.Is(err, ErrInvalidRequest):
		return "ERR_INVALID_REQUEST"
	default:
		return "ERR_UNKNOWN"
	}
}
