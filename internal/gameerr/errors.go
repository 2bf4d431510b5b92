// Package gameerr defines the recoverable error taxonomy shared by the session core.
//
// None of these codes are fatal: callers convert them into a fallback line, a toast,
// or a silent no-op at the step boundary where they occur.
package gameerr

import "errors"

// Code classifies a recoverable failure.
type Code string

const (
	// BackendUnavailable covers AI, speech and listening backends.
	BackendUnavailable Code = "BACKEND_UNAVAILABLE"
	// DecodeError is returned for an unreadable save code or blob.
	DecodeError Code = "DECODE_ERROR"
	// StorageError covers quota, disabled storage and driver failures.
	StorageError Code = "STORAGE_ERROR"
	// InvariantViolation marks derived input that was clamped or ignored.
	InvariantViolation Code = "INVARIANT_VIOLATION"
)

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether any error in err's chain is an *Error with code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// UserMessage is the short, in-character text shown for a failure of the given code.
func UserMessage(code Code) string {
	switch code {
	case BackendUnavailable:
		return "The line crackles. Let's keep going without it."
	case DecodeError:
		return "That save code doesn't look right."
	case StorageError:
		return "Progress couldn't be saved right now. The session continues in memory."
	case InvariantViolation:
		return "Something odd happened, but the session is fine."
	default:
		return "Something went wrong."
	}
}
