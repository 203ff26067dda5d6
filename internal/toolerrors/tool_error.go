// Package toolerrors provides a structured error type for tool invocation
// failures. ToolError preserves cause chains (errors.Is/As) while remaining
// JSON-serializable, so a tool failure can cross the registry boundary as
// data rather than as a panic or bare Go error.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError represents a structured tool failure. Errors may nest via Cause
// to retain diagnostics across policy checks and retries.
type ToolError struct {
	// Message is the human-readable summary surfaced to the LLM and to callers.
	Message string `json:"message"`
	// Code classifies the failure for programmatic handling (e.g. "path_boundary",
	// "unknown_tool", "invalid_arguments", "policy_blocked"). Empty when unclassified.
	Code string `json:"code,omitempty"`
	// Cause links to the underlying tool error, if any.
	Cause *ToolError `json:"cause,omitempty"`
}

// New constructs a ToolError with the provided message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// WithCode sets the error classification code and returns the same ToolError
// for chaining at construction time.
func (e *ToolError) WithCode(code string) *ToolError {
	if e == nil {
		return nil
	}
	e.Code = code
	return e
}

// NewWithCause constructs a ToolError wrapping an underlying error so the
// chain survives serialization.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain, reusing an
// existing ToolError in the chain if present.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats a message and returns it as a ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/As over the cause chain.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
