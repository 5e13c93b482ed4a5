package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/nkkko/idled/internal/domain"
)

// ErrorType defines the type of error
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeUnavailable ErrorType = "unavailable"
)

// APIError represents a standardized API error
type APIError struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	HTTPCode  int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Code, e.Message)
}

// WithDetails adds details to the error
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *APIError) WithRequestID(requestID string) *APIError {
	e.RequestID = requestID
	return e
}

// ValidationError creates a new validation error
func ValidationError(code string, message string) *APIError {
	return &APIError{Type: ErrorTypeValidation, Code: code, Message: message, HTTPCode: http.StatusBadRequest}
}

// NotFoundError creates a new not found error
func NotFoundError(code string, message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Code: code, Message: message, HTTPCode: http.StatusNotFound}
}

// ConflictError creates a new conflict error
func ConflictError(code string, message string) *APIError {
	return &APIError{Type: ErrorTypeConflict, Code: code, Message: message, HTTPCode: http.StatusConflict}
}

// InternalError creates a new internal server error
func InternalError(code string, message string) *APIError {
	return &APIError{Type: ErrorTypeInternal, Code: code, Message: message, HTTPCode: http.StatusInternalServerError}
}

// TimeoutError creates a new timeout error
func TimeoutError(code string, message string) *APIError {
	return &APIError{Type: ErrorTypeTimeout, Code: code, Message: message, HTTPCode: http.StatusGatewayTimeout}
}

// UnavailableError creates a new service unavailable error
func UnavailableError(code string, message string) *APIError {
	return &APIError{Type: ErrorTypeUnavailable, Code: code, Message: message, HTTPCode: http.StatusServiceUnavailable}
}

// FromError creates a new API error from a Go error. Domain errors keep
// the same codes as the session protocol.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case stderrors.Is(err, domain.ErrUnknownSeat):
		return NotFoundError("unknown_seat", err.Error())
	case stderrors.Is(err, domain.ErrInvalidTimeout):
		return ValidationError("invalid_timeout", err.Error())
	case stderrors.Is(err, domain.ErrUnknownSubscription):
		return NotFoundError("unknown_subscription", err.Error())
	case stderrors.Is(err, domain.ErrSubscriptionIdle):
		return ConflictError("subscription_idle", err.Error())
	case stderrors.Is(err, domain.ErrUnknownInhibitor):
		return NotFoundError("unknown_inhibitor", err.Error())
	case stderrors.Is(err, domain.ErrTooManyInhibitors):
		return ConflictError("too_many_inhibitors", err.Error())
	case stderrors.Is(err, context.DeadlineExceeded):
		return TimeoutError("timeout", err.Error())
	}

	return InternalError("internal_error", err.Error())
}
