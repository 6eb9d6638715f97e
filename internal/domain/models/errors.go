package models

import "fmt"

// ValidationError rejects malformed trade parameters or exchange-filter
// violations. Never retried; surfaced to the caller synchronously.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// NewValidationError creates a validation error for a parameter field.
func NewValidationError(field, format string, a ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, a...)}
}

// ExecutionError is an exchange-side order rejection. Retried up to the
// executor's attempt budget; the final failure becomes a TradeResult with
// Success=false, never a propagated error.
type ExecutionError struct {
	Code    string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution: %s: %s", e.Code, e.Message)
}

// ConnectivityError is a socket or API failure. Retried with bounded
// exponential backoff; exhaustion is reported as a terminal error event.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }
