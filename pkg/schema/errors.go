package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeDefinitionNotFound = "DEFINITION_NOT_FOUND"
	ErrCodeNoMatchingFlow     = "NO_MATCHING_FLOW"
	ErrCodeUnknownHandler     = "UNKNOWN_HANDLER"
	ErrCodeHandlerFailed      = "HANDLER_FAILED"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeInterpolation      = "INTERPOLATION_ERROR"
	ErrCodeStore              = "STORE_ERROR"
)

// FlowError is the structured error type returned by every nxflow operation.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the id of the node being dispatched.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first FlowError in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries a FlowError with the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsConfiguration reports whether err is one of the configuration failures: a bad
// definition, an undeployed process, no matching flow or an unresolvable handler.
func IsConfiguration(err error) bool {
	switch CodeOf(err) {
	case ErrCodeValidation, ErrCodeConfiguration, ErrCodeDefinitionNotFound,
		ErrCodeNoMatchingFlow, ErrCodeUnknownHandler:
		return true
	}
	return false
}
