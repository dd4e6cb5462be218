package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so recovery can pick a strategy.
type ErrorKind int

const (
	KindUnknown                    ErrorKind = iota // Unclassified failure
	KindPermissionDenied                            // Accessibility permission not granted
	KindCapabilityUnavailable                       // OS accessibility service or framework missing
	KindElementNotFound                             // No element matched the target
	KindOperationTimedOut                           // A bounded operation ran out of time
	KindTreeTraversalFailed                         // Root resolution or traversal failed
	KindCoordinateResolutionFailed                  // Element has no usable on-screen position
	KindMatchingEngineFailed                        // Text matching could not run
	KindTargetExtractionFailed                      // Command did not yield a search phrase
	KindActionFailed                                // Action executor kept failing
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindCapabilityUnavailable:
		return "capability_unavailable"
	case KindElementNotFound:
		return "element_not_found"
	case KindOperationTimedOut:
		return "operation_timed_out"
	case KindTreeTraversalFailed:
		return "tree_traversal_failed"
	case KindCoordinateResolutionFailed:
		return "coordinate_resolution_failed"
	case KindMatchingEngineFailed:
		return "matching_engine_failed"
	case KindTargetExtractionFailed:
		return "target_extraction_failed"
	case KindActionFailed:
		return "action_failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(s string) (ErrorKind, bool) {
	for k := KindUnknown; k <= KindActionFailed; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return KindUnknown, false
}

// UnmarshalText decodes a kind by name.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	parsed, ok := ParseErrorKind(string(text))
	if !ok {
		return fmt.Errorf("unknown error kind %q", text)
	}
	*k = parsed
	return nil
}

// ExecutionError represents a structured error with kind and details
type ExecutionError struct {
	Kind    ErrorKind
	Code    string         // Machine-readable code: element_not_found, timeout, etc.
	Message string         // Human-readable message
	Details map[string]any // Additional context
	Cause   error          // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: msg,
		Details: e.Details,
		Cause:   e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]any) *ExecutionError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: merged,
		Cause:   e.Cause,
	}
}

// Predefined errors, one per kind.
var (
	ErrPermissionDenied = &ExecutionError{
		Kind:    KindPermissionDenied,
		Code:    "permission_denied",
		Message: "accessibility permission denied",
	}
	ErrCapabilityUnavailable = &ExecutionError{
		Kind:    KindCapabilityUnavailable,
		Code:    "capability_unavailable",
		Message: "accessibility service unavailable",
	}
	ErrElementNotFound = &ExecutionError{
		Kind:    KindElementNotFound,
		Code:    "element_not_found",
		Message: "element not found",
	}
	ErrTimeout = &ExecutionError{
		Kind:    KindOperationTimedOut,
		Code:    "timeout",
		Message: "operation timed out",
	}
	ErrTreeTraversal = &ExecutionError{
		Kind:    KindTreeTraversalFailed,
		Code:    "tree_traversal_failed",
		Message: "accessibility tree traversal failed",
	}
	ErrCoordinateResolution = &ExecutionError{
		Kind:    KindCoordinateResolutionFailed,
		Code:    "coordinate_resolution_failed",
		Message: "could not resolve element coordinates",
	}
	ErrMatchingEngine = &ExecutionError{
		Kind:    KindMatchingEngineFailed,
		Code:    "matching_engine_failed",
		Message: "text matching failed",
	}
	ErrTargetExtraction = &ExecutionError{
		Kind:    KindTargetExtractionFailed,
		Code:    "target_extraction_failed",
		Message: "could not extract a target from the command",
	}
	ErrActionFailed = &ExecutionError{
		Kind:    KindActionFailed,
		Code:    "action_failed",
		Message: "action execution failed",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(kind ErrorKind, code, message string) *ExecutionError {
	return &ExecutionError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// KindOf classifies an arbitrary error.
// Typed errors keep their kind; context deadlines map to KindOperationTimedOut.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindOperationTimedOut
	}
	return KindUnknown
}

// RemediationHint returns a user-facing suggestion for a failure kind.
func RemediationHint(kind ErrorKind) string {
	switch kind {
	case KindPermissionDenied:
		return "Grant accessibility permission to this application in system settings and retry."
	case KindCapabilityUnavailable:
		return "The accessibility service is not available on this system; enable it or use screen-based control."
	case KindElementNotFound:
		return "No matching element was visible. Check the element label or bring the application to the front."
	case KindOperationTimedOut:
		return "The application responded too slowly. Retry once it is idle."
	case KindTreeTraversalFailed:
		return "The application's accessibility tree could not be read. Make sure the application is running."
	case KindCoordinateResolutionFailed:
		return "The element has no on-screen position. Scroll it into view and retry."
	case KindMatchingEngineFailed:
		return "Text matching failed. Rephrase the command and retry."
	case KindTargetExtractionFailed:
		return "The command did not name anything to act on. Say what to click, e.g. \"click Save\"."
	case KindActionFailed:
		return "The action could not be performed on the element. Retry or perform it manually."
	default:
		return "The command could not be completed. Retry or rephrase it."
	}
}
