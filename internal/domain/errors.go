package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the submission workflow and rule engine. Validation and
// reentrancy errors are rejected synchronously and never change workflow
// state; transport, malformed-response and correlation errors move the
// workflow to Failed; the remaining two are programming-contract violations
// surfaced to the integrator, never user-facing states.
var (
	ErrAlreadyInProgress    = errors.New("a submission is already in progress")
	ErrInvalidSeverityIndex = errors.New("severity index outside the 0-3 domain")
	ErrIncompleteReport     = errors.New("report assembly requires a completed result")
	ErrMalformedResponse    = errors.New("diagnostic service returned a malformed payload")
	ErrInconsistentResult   = errors.New("is_safe and severity_index disagree")
)

// ValidationError reports a missing or invalid required field caught before a
// submission reaches the network.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransportError reports a network or remote-service failure during the
// submission call or a history fetch. Reason carries the human-readable
// message shown to the operator; Cause retains the underlying error.
type TransportError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a TransportError with a display reason.
func NewTransportError(reason string, cause error) *TransportError {
	return &TransportError{Reason: reason, Cause: cause}
}

// CorrelationError reports that the diagnostic service echoed back a report
// identifier different from the one the client sent. The response is treated
// as a failure, never silently accepted.
type CorrelationError struct {
	Sent ReportID
	Got  ReportID
}

// Error implements the error interface.
func (e *CorrelationError) Error() string {
	return fmt.Sprintf("report id mismatch: sent %s, got %s", e.Sent, e.Got)
}
