package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeContext    = "CONTEXT_ERROR"
	ErrCodeExpression = "EXPRESSION_ERROR"

	// Compile-time codes. These never reach the execution side: a node with
	// an expression that fails to compile cannot be saved.
	ErrCodeEmptyRuleSet        = "EMPTY_RULE_SET"
	ErrCodeMalformedExpert     = "MALFORMED_EXPERT_EXPRESSION"
	ErrCodeInvalidArrayLiteral = "INVALID_ARRAY_LITERAL"
	ErrCodeInvalidOperator     = "INVALID_OPERATOR"

	// Evaluation-time codes.
	ErrCodeUnknownOperator     = "UNKNOWN_OPERATOR"
	ErrCodeMalformedExpression = "MALFORMED_EXPRESSION"

	// Validation warning codes.
	WarnCodeConnectorIgnored = "CONNECTOR_IGNORED"
)

// CondError is the structured error type for all credlogic operations.
type CondError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CondError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CondError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CondError.
func NewError(code, message string) *CondError {
	return &CondError{Code: code, Message: message}
}

// NewErrorf creates a new CondError with a formatted message.
func NewErrorf(code, format string, args ...any) *CondError {
	return &CondError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a condition node ID to the error.
func (e *CondError) WithNode(nodeID string) *CondError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *CondError) WithCause(err error) *CondError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CondError) WithDetails(details map[string]any) *CondError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first CondError in err's chain, or "".
func CodeOf(err error) string {
	var ce *CondError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries a CondError with the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
