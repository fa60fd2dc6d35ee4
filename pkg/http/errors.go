package http

import (
	"errors"
	"fmt"
	"net/http"

	"StreamPull/pkg/streams"
)

// AppError represents application-level error with HTTP status.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Field:   field,
		Status:  status,
	}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// NotFoundErrorf creates a 404 error with formatting.
func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_NOT_FOUND", "", fmt.Sprintf(format, a...), http.StatusNotFound)
}

// BadRequestError creates a 400 error.
func BadRequestError(field, message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", field, message, http.StatusBadRequest)
}

// BadGatewayError reports an upstream failure.
func BadGatewayError(err error) *AppError {
	return NewAppError("ERR_UPSTREAM", "", "upstream request failed", http.StatusBadGateway).WithError(err)
}

// ServiceUnavailableError creates a 503 error.
func ServiceUnavailableError(message string) *AppError {
	return NewAppError("ERR_UNAVAILABLE", "", message, http.StatusServiceUnavailable)
}

// DecodeFailure maps a report decoding error to a 422 AppError carrying the
// decoder's error code and, for truncated buffers, the offending field.
func DecodeFailure(err error) *AppError {
	code := streams.ErrorCode(err)
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, streams.ErrInvalidRequest):
		status = http.StatusBadRequest
	case code == "ERR_UNKNOWN":
		status = http.StatusInternalServerError
	}

	ae := NewAppError(code, "full_report", err.Error(), status).WithError(err)
	var de *streams.DecodeError
	if errors.As(err, &de) && de.Field != "" {
		ae.WithParam("field", de.Field).
			WithParam("offset", de.Offset).
			WithParam("length", de.Length)
	}
	return ae
}
