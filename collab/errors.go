package collab

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Transport errors: retried by the connection manager, never fatal.
	ErrorTransport
	ErrorNotConnected
	ErrorClosed

	// Local validation errors: rejected synchronously, no state change.
	ErrorValidation

	// Remote messages that do not match local state. Absorbed and logged only.
	ErrorRemoteInconsistency

	// Remote code execution failed.
	ErrorExecution

	ErrorSerialization
	ErrorInvalidConfig
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorTransport:
		return "transport_error"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorClosed:
		return "closed"
	case ErrorValidation:
		return "validation_error"
	case ErrorRemoteInconsistency:
		return "remote_inconsistency"
	case ErrorExecution:
		return "execution_error"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorInvalidConfig:
		return "invalid_config"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// Error is a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches an *Error carrying the same code. A target with a message, such
// as ErrLastFile, also requires the same message; NewError(code, "") matches
// the whole code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	return t.Message == "" || e.Message == t.Message
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with an Error.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

var (
	ErrNotConnected  = NewError(ErrorNotConnected, "not connected")
	ErrClosed        = NewError(ErrorClosed, "room closed")
	ErrEmptyFileName = NewError(ErrorValidation, "file name is empty")
	ErrLastFile      = NewError(ErrorValidation, "cannot delete the last file")
	ErrFileExists    = NewError(ErrorValidation, "file already exists")
	ErrUnknownFile   = NewError(ErrorValidation, "no such file")
)

func codeOf(err error) (ErrorCode, bool) {
	if err == nil {
		return ErrorUnknown, false
	}
	var ce *Error
	if !errors.As(err, &ce) {
		return ErrorUnknown, false
	}
	return ce.Code, true
}

// IsValidationError reports whether err was a rejected local action.
func IsValidationError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrorValidation
}

// IsTransportError checks if an error is a connection-related error.
func IsTransportError(err error) bool {
	code, ok := codeOf(err)
	return ok && (code == ErrorTransport || code == ErrorNotConnected || code == ErrorClosed)
}
