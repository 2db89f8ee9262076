// Package journey provides an embeddable workflow orchestration engine.
package journey

import "errors"

// Error codes surfaced by EngineError. Hosts can switch on these for
// programmatic handling instead of parsing messages.
const (
	CodeDefinitionInvalid   = "DEFINITION_INVALID"
	CodeCaseAlreadyExists   = "CASE_ALREADY_EXISTS"
	CodeCaseNotFound        = "CASE_NOT_FOUND"
	CodeCaseAlreadyComplete = "CASE_ALREADY_COMPLETE"
	CodeCaseNotPended       = "CASE_NOT_PENDED"
	CodeExecutorSaturated   = "EXECUTOR_SATURATED"
	CodePersistFailed       = "PERSIST_FAILED"
	CodeUnknownTicket       = "UNKNOWN_TICKET"
	CodeInvariantViolation  = "INVARIANT_VIOLATION"
	CodeEngineClosed        = "ENGINE_CLOSED"
)

// ErrEngineClosed is returned when an operation is attempted after Close.
var ErrEngineClosed = errors.New("engine is closed")

// ErrExecutorSaturated is returned when the shared worker pool could not
// accept a path worker within the backpressure window. The case remains at
// its last persisted state and the operation can be retried.
var ErrExecutorSaturated = errors.New("worker pool saturated")

// EngineError represents an error from engine operations.
//
// Code is one of the Code* constants. Cause, when non-nil, carries the
// underlying error (for example a repository write failure behind
// PERSIST_FAILED) and is reachable via errors.Unwrap.
type EngineError struct {
	Code    string
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error represents a transient condition
// that may succeed on retry. Only pool saturation qualifies; lifecycle and
// validation errors are permanent for the attempted operation.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrExecutorSaturated) {
		return true
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == CodeExecutorSaturated
	}
	return false
}

func engineErr(code, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

func engineErrWrap(code, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: msg, Cause: cause}
}
