package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatAuth        ErrorCategory = "auth"        // No or invalid identity
	ErrCatDenied      ErrorCategory = "denied"      // Gate check failed
	ErrCatValidation  ErrorCategory = "validation"  // Malformed input
	ErrCatNotFound    ErrorCategory = "not_found"   // Resource not found
	ErrCatBroker      ErrorCategory = "broker"      // Round trip produced no reply
	ErrCatWorker      ErrorCategory = "worker"      // Decoded reply signals failure
	ErrCatSaturated   ErrorCategory = "saturated"   // Async pool admission refused
	ErrCatPersistence ErrorCategory = "persistence" // Store read/write failed
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Predefined error codes.
const (
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeAccessDenied     = "ACCESS_DENIED"
	CodeMalformedInput   = "MALFORMED_INPUT"
	CodeBrokerNoReply    = "BROKER_NO_REPLY"
	CodeWorkerError      = "WORKER_ERROR"
	CodePoolSaturated    = "POOL_SATURATED"
	CodePersistence      = "PERSISTENCE_FAILED"
	CodeTaskNotFound     = "TASK_NOT_FOUND"
	CodeServableNotFound = "SERVABLE_NOT_FOUND"
)

// ErrAuthRequired creates the error for an unauthenticated request.
func ErrAuthRequired() *DomainError {
	return &DomainError{
		Category: ErrCatAuth,
		Code:     CodeAuthRequired,
		Message:  "you must be logged in to perform this function",
	}
}

// ErrAccessDenied creates a gate-denial error for a servable reference.
func ErrAccessDenied(ref string) *DomainError {
	return &DomainError{
		Category: ErrCatDenied,
		Code:     CodeAccessDenied,
		Message:  fmt.Sprintf("permission denied, cannot access servable %s", ref),
	}
}

// ErrMalformedInput creates a validation error.
func ErrMalformedInput(message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     CodeMalformedInput,
		Message:  message,
	}
}

// ErrBrokerNoReply creates the error for a round trip that produced
// nothing, either because no worker answered or because the wait ran
// out.
func ErrBrokerNoReply() *DomainError {
	return &DomainError{
		Category:  ErrCatBroker,
		Code:      CodeBrokerNoReply,
		Message:   "internal service error: no reply from execution backend",
		Retryable: true,
	}
}

// ErrWorkerError creates the error for a reply that itself signals a
// failure inside the servable.
func ErrWorkerError(message string) *DomainError {
	return &DomainError{
		Category: ErrCatWorker,
		Code:     CodeWorkerError,
		Message:  message,
	}
}

// ErrPoolSaturated creates the admission-control backpressure error.
func ErrPoolSaturated(inFlight int64) *DomainError {
	return &DomainError{
		Category:  ErrCatSaturated,
		Code:      CodePoolSaturated,
		Message:   "too many in-flight asynchronous dispatches, retry later",
		Retryable: true,
		Details:   map[string]interface{}{"in_flight": inFlight},
	}
}

// ErrPersistence wraps a store failure.
func ErrPersistence(op string, cause error) *DomainError {
	return &DomainError{
		Category: ErrCatPersistence,
		Code:     CodePersistence,
		Message:  op,
		Cause:    cause,
	}
}

// ErrTaskNotFound creates a not-found error for a task id.
func ErrTaskNotFound(id TaskID) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeTaskNotFound,
		Message:  fmt.Sprintf("task not found: %s", id),
	}
}

// ErrServableNotFound creates a not-found error for a servable
// reference.
func ErrServableNotFound(ref string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeServableNotFound,
		Message:  fmt.Sprintf("servable not found: %s", ref),
	}
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}
