package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for fancy core errors.
type ErrorCode string

// Wiring-time error codes. These are raised synchronously at the call
// site and never enter a workflow.
const (
	ARGUMENT_BINDING_FAILED ErrorCode = "ARGUMENT_BINDING_FAILED"
	UNKNOWN_FUNCTION        ErrorCode = "UNKNOWN_FUNCTION"
	DUPLICATE_SLUG          ErrorCode = "DUPLICATE_SLUG"
	WORKFLOW_INVALID        ErrorCode = "WORKFLOW_INVALID"
)

// Engine-time dispatch error codes.
const (
	UNRESOLVED_DEPENDENCY    ErrorCode = "UNRESOLVED_DEPENDENCY"
	SHAPE_MISMATCH           ErrorCode = "SHAPE_MISMATCH"
	BROADCAST_ARITY_MISMATCH ErrorCode = "BROADCAST_ARITY_MISMATCH"
	FUNCTION_FAILED          ErrorCode = "FUNCTION_FAILED"
	RUN_CANCELLED            ErrorCode = "RUN_CANCELLED"
)

// Value store error codes.
const (
	STORAGE_UNAVAILABLE     ErrorCode = "STORAGE_UNAVAILABLE"
	REFERENCE_NOT_FOUND     ErrorCode = "REFERENCE_NOT_FOUND"
	COMPOSITE_CHILD_MISSING ErrorCode = "COMPOSITE_CHILD_MISSING"
	CELL_NOT_READY          ErrorCode = "CELL_NOT_READY"
	CELL_NOT_FOUND          ErrorCode = "CELL_NOT_FOUND"
)

// Configuration error codes.
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED      ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// FancyError represents a structured error with error code, message, and
// optional cause. It supports error wrapping and retryability hints for
// error handling logic.
type FancyError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *FancyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
// This enables using errors.Is() and errors.As() with wrapped errors.
func (e *FancyError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is a FancyError with the same Code.
func (e *FancyError) Is(target error) bool {
	var fancyErr *FancyError
	if errors.As(target, &fancyErr) {
		return e.Code == fancyErr.Code
	}
	return false
}

// NewError creates a new non-retryable FancyError with the given code and message.
func NewError(code ErrorCode, message string) *FancyError {
	return &FancyError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// NewErrorf creates a new non-retryable FancyError with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *FancyError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// NewRetryableError creates a new retryable FancyError with the given code and message.
// Use this for transient errors that may succeed on retry (e.g., storage backends
// that are momentarily unavailable).
func NewRetryableError(code ErrorCode, message string) *FancyError {
	return &FancyError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     nil,
	}
}

// WrapError creates a new non-retryable FancyError that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *FancyError {
	return &FancyError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// CodeOf extracts the ErrorCode from an error chain.
// Returns an empty code if the chain contains no FancyError.
func CodeOf(err error) ErrorCode {
	var fancyErr *FancyError
	if errors.As(err, &fancyErr) {
		return fancyErr.Code
	}
	return ""
}

// IsRetryable reports whether the error chain contains a retryable FancyError.
func IsRetryable(err error) bool {
	var fancyErr *FancyError
	if errors.As(err, &fancyErr) {
		return fancyErr.Retryable
	}
	return false
}
