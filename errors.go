package swflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/swflow/retry"
)

// Error type constants for classification and matching
const (
	// ErrorTypeAll acts as a wildcard that matches any error except fatal errors
	ErrorTypeAll = "all"

	// ErrorTypeActivityFailed matches any error except timeouts and fatal errors
	ErrorTypeActivityFailed = "activity_failed"

	// ErrorTypeTimeout matches a timeout context canceled error
	ErrorTypeTimeout = "timeout"

	// ErrorTypeFatal marks errors that are never retried and are matched
	// only by this exact type. Unknown errors classify as activity failures,
	// so they stay retryable unless wrapped with retry.NewNonRecoverableError.
	ErrorTypeFatal = "fatal_error"
)

// WorkflowError represents a structured error with classification
// It supports Go's error wrapping patterns with Unwrap() method
type WorkflowError struct {
	Type    string      `json:"type"`
	Cause   string      `json:"cause"`
	Details interface{} `json:"details,omitempty"`
	Wrapped error       `json:"-"` // Original error being wrapped
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *WorkflowError) Unwrap() error {
	return e.Wrapped
}

// ErrorOutput is stored by catch handlers for the steps that follow
type ErrorOutput struct {
	Error   string      `json:"Error"`
	Cause   string      `json:"Cause"`
	Details interface{} `json:"Details,omitempty"`
}

// NewWorkflowError creates a new WorkflowError. The type can be any string,
// such as "404" or "network-error", and is what retry and catch configs match
// against.
func NewWorkflowError(errorType, cause string) *WorkflowError {
	return &WorkflowError{
		Type:  errorType,
		Cause: cause,
	}
}

// ClassifyError attempts to classify a regular error into a WorkflowError
func ClassifyError(err error) *WorkflowError {
	var workflowError *WorkflowError
	if errors.As(err, &workflowError) {
		return workflowError
	}
	if retry.IsNonRecoverable(err) {
		return &WorkflowError{
			Type:    ErrorTypeFatal,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &WorkflowError{
			Type:    ErrorTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	return &WorkflowError{
		Type:    ErrorTypeActivityFailed,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// MatchesErrorType checks if an error matches a specified error type pattern
func MatchesErrorType(err error, errorType string) bool {
	wErr := ClassifyError(err)
	// Fatal errors are only matched by the ErrorTypeFatal pattern
	if wErr.Type == ErrorTypeFatal {
		return errorType == ErrorTypeFatal
	}
	switch errorType {
	case ErrorTypeAll:
		return true
	case ErrorTypeActivityFailed:
		return wErr.Type != ErrorTypeTimeout
	default:
		// Arbitrary user types such as HTTP status codes
		return wErr.Type == errorType
	}
}

// ToErrorOutput converts a WorkflowError to ErrorOutput for catch handlers
func (e *WorkflowError) ToErrorOutput() ErrorOutput {
	return ErrorOutput{
		Error:   e.Type,
		Cause:   e.Cause,
		Details: e.Details,
	}
}

// WrapWorkflowError returns a WorkflowError of the given type wrapping err.
func WrapWorkflowError(errorType string, err error) *WorkflowError {
	return &WorkflowError{
		Type:    errorType,
		Cause:   err.Error(),
		Wrapped: err,
	}
}
