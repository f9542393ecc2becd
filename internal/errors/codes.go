package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for engine operations.
type ErrorCode string

const (
	// ErrCodeBackendUnavailable indicates a similarity/graph/semantic backend
	// connection or protocol failure.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// ErrCodeNotFound indicates the referenced memory or entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeSemanticServiceFailed indicates the semantic analysis service
	// could not be reached or returned a protocol-level failure.
	ErrCodeSemanticServiceFailed ErrorCode = "SEMANTIC_SERVICE_FAILED"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// EngineError represents a structured error for engine operations.
type EngineError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// GetCode returns the error code.
func (e *EngineError) GetCode() ErrorCode {
	return e.Code
}

// BackendUnavailable creates a backend unavailable error.
func BackendUnavailable(backend string, cause error) *EngineError {
	return &EngineError{
		Code:    ErrCodeBackendUnavailable,
		Message: fmt.Sprintf("%s backend unavailable", backend),
		Cause:   cause,
	}
}

// NotFound creates a not found error.
func NotFound(entity, id string) *EngineError {
	return &EngineError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", entity, id),
	}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *EngineError {
	return &EngineError{
		Code:    ErrCodeInvalidArgument,
		Message: msg,
	}
}

// SemanticServiceFailed creates a semantic service error.
func SemanticServiceFailed(msg string, cause error) *EngineError {
	return &EngineError{
		Code:    ErrCodeSemanticServiceFailed,
		Message: msg,
		Cause:   cause,
	}
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code == ErrCodeNotFound
	}
	return false
}

// CodeOf extracts the error code from err, or empty string if err is not an
// EngineError.
func CodeOf(err error) ErrorCode {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}
