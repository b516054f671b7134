package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error. The provider-facing types
// (rate_limited through timeout) form the shared taxonomy that adapters map
// vendor errors into, so routing and resiliency logic never needs
// vendor-specific knowledge.
type ErrorType string

const (
	// ErrorTypeInvalidRequest marks a client error; never retried.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeRateLimited marks an upstream or local rate-limit rejection;
	// surfaced to the caller, may suggest a retry-after.
	ErrorTypeRateLimited ErrorType = "rate_limited"

	// ErrorTypeAuthFailed marks a provider credential failure. Fatal for
	// that provider; never retried and never counted against the circuit.
	ErrorTypeAuthFailed ErrorType = "auth_failed"

	// ErrorTypeModelNotFound marks a client error naming an unknown model.
	ErrorTypeModelNotFound ErrorType = "model_not_found"

	// ErrorTypeServerError marks an upstream 5xx-equivalent failure.
	// Transient: eligible for retry and circuit counting.
	ErrorTypeServerError ErrorType = "server_error"

	// ErrorTypeNetworkError marks a connection-level failure.
	// Transient: eligible for retry and circuit counting.
	ErrorTypeNetworkError ErrorType = "network_error"

	// ErrorTypeTimeout marks a call that exceeded its deadline.
	// Transient: eligible for retry and circuit counting.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeCanceled marks a call abandoned by the caller. Not a
	// provider failure: never retried and never counted against the
	// circuit.
	ErrorTypeCanceled ErrorType = "canceled"

	// ErrorTypeCircuitOpen marks a call rejected by an open circuit
	// breaker before any upstream call was attempted.
	ErrorTypeCircuitOpen ErrorType = "circuit_open"

	// ErrorTypeExhausted marks a request for which no healthy provider
	// remained. Terminal; surfaced to the caller.
	ErrorTypeExhausted ErrorType = "all_providers_exhausted"

	// ErrorTypePersistence marks a cache/ledger failure. Logged and
	// degraded silently; never fails the primary response path.
	ErrorTypePersistence ErrorType = "persistence"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Client errors
	ErrInvalidRequest = NewDomainError(ErrorTypeInvalidRequest, "invalid request", nil)
	ErrEmptyMessages  = NewDomainError(ErrorTypeInvalidRequest, "request must contain at least one message", nil)
	ErrModelNotFound  = NewDomainError(ErrorTypeModelNotFound, "model not found", nil)

	// Upstream errors
	ErrRateLimited  = NewDomainError(ErrorTypeRateLimited, "rate limit exceeded", nil)
	ErrAuthFailed   = NewDomainError(ErrorTypeAuthFailed, "provider authentication failed", nil)
	ErrServerError  = NewDomainError(ErrorTypeServerError, "provider server error", nil)
	ErrNetworkError = NewDomainError(ErrorTypeNetworkError, "provider network error", nil)
	ErrTimeout      = NewDomainError(ErrorTypeTimeout, "provider call timed out", nil)

	// Caller errors
	ErrCanceled = NewDomainError(ErrorTypeCanceled, "call canceled by caller", nil)

	// Routing errors
	ErrCircuitOpen         = NewDomainError(ErrorTypeCircuitOpen, "provider circuit is open", nil)
	ErrProvidersExhausted  = NewDomainError(ErrorTypeExhausted, "no healthy provider available", nil)

	// Persistence errors
	ErrPersistence = NewDomainError(ErrorTypePersistence, "persistence operation failed", nil)
)

// GetErrorType returns the ErrorType of a domain error, or empty string if
// not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a
// domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// IsTransient reports whether an error belongs to one of the transient
// classes eligible for retry and circuit counting.
func IsTransient(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeTimeout, ErrorTypeServerError, ErrorTypeNetworkError:
		return true
	}
	return false
}

// IsCanceledError checks if an error is a caller cancellation
func IsCanceledError(err error) bool {
	return GetErrorType(err) == ErrorTypeCanceled
}

// IsInvalidRequestError checks if an error is a client validation error
func IsInvalidRequestError(err error) bool {
	return GetErrorType(err) == ErrorTypeInvalidRequest
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimited
}

// IsCircuitOpenError checks if an error is a circuit breaker rejection
func IsCircuitOpenError(err error) bool {
	return GetErrorType(err) == ErrorTypeCircuitOpen
}

// IsPersistenceError checks if an error is a cache/ledger failure
func IsPersistenceError(err error) bool {
	return GetErrorType(err) == ErrorTypePersistence
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapPersistence wraps an error as a persistence failure
func WrapPersistence(message string, err error) error {
	return NewDomainError(ErrorTypePersistence, message, err)
}
