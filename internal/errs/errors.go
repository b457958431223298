package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error so callers and tests can match on it without
// comparing message text.
type Code string

const (
	ErrUnknown       Code = "UNKNOWN"
	ErrInvalidInput  Code = "INVALID_INPUT"
	ErrNotFound      Code = "NOT_FOUND"
	ErrAlreadyExists Code = "ALREADY_EXISTS"
	ErrConfig        Code = "CONFIG"

	// Recognizer failures. Always recoverable by the area loop.
	ErrRecognition Code = "RECOGNITION"
	// Invalid rule, rule set or expression. Reported at creation time.
	ErrRuleConfig Code = "RULE_CONFIG"
	// Effector failures and rejected actions.
	ErrAction Code = "ACTION"
	// Unknown task target or a target that failed to dispatch.
	ErrDispatch Code = "DISPATCH"
	// start/stop called in the wrong state.
	ErrLifecycle Code = "LIFECYCLE"
	// Store read or write failures.
	ErrPersistence Code = "PERSISTENCE"
)

// Error is a structured error with a stable code
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with the given code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err under code. Returns nil for a nil err.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Wrapped: err}
}

// Wrapf wraps err under code with a formatted message
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// WithDetail attaches a key/value pair to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the outermost *Error in the chain, or ErrUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// HasCode reports whether err carries code anywhere in its chain
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, &Error{Code: code})
}
