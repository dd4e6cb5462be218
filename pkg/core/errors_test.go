package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Kind:    KindElementNotFound,
		Code:    "test_error",
		Message: "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := ErrTreeTraversal.WithCause(cause)

	got := err.Error()
	if !strings.Contains(got, "accessibility tree traversal failed") {
		t.Errorf("Error() = %q, should contain the message", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain 'underlying error'", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestExecutionError_WithCauseDoesNotModifyOriginal(t *testing.T) {
	newErr := ErrElementNotFound.WithCause(errors.New("custom cause"))

	if newErr.Code != ErrElementNotFound.Code {
		t.Error("WithCause() changed code")
	}
	if ErrElementNotFound.Cause != nil {
		t.Error("WithCause() modified original error")
	}
}

func TestExecutionError_WithMessage(t *testing.T) {
	newErr := ErrTimeout.WithMessage("custom timeout message")

	if newErr.Message != "custom timeout message" {
		t.Errorf("Message = %q, want 'custom timeout message'", newErr.Message)
	}
	if ErrTimeout.Message == "custom timeout message" {
		t.Error("WithMessage() modified original error")
	}
}

func TestExecutionError_WithDetails(t *testing.T) {
	base := ErrElementNotFound.WithDetails(map[string]any{"target": "Gmail"})
	merged := base.WithDetails(map[string]any{"depth": 10})

	if merged.Details["target"] != "Gmail" || merged.Details["depth"] != 10 {
		t.Errorf("Details = %v, want both keys", merged.Details)
	}
	if _, ok := base.Details["depth"]; ok {
		t.Error("WithDetails() modified the receiver's details")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"typed", ErrPermissionDenied, KindPermissionDenied},
		{"wrapped typed", fmt.Errorf("resolve: %w", ErrCapabilityUnavailable), KindCapabilityUnavailable},
		{"deadline", context.DeadlineExceeded, KindOperationTimedOut},
		{"wrapped deadline", fmt.Errorf("walk: %w", context.DeadlineExceeded), KindOperationTimedOut},
		{"plain", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindUnknown, "unknown"},
		{KindPermissionDenied, "permission_denied"},
		{KindCapabilityUnavailable, "capability_unavailable"},
		{KindElementNotFound, "element_not_found"},
		{KindOperationTimedOut, "operation_timed_out"},
		{KindTreeTraversalFailed, "tree_traversal_failed"},
		{KindCoordinateResolutionFailed, "coordinate_resolution_failed"},
		{KindMatchingEngineFailed, "matching_engine_failed"},
		{KindTargetExtractionFailed, "target_extraction_failed"},
		{KindActionFailed, "action_failed"},
		{ErrorKind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestRemediationHint_AllKindsHaveHints(t *testing.T) {
	for k := KindUnknown; k <= KindActionFailed; k++ {
		if RemediationHint(k) == "" {
			t.Errorf("RemediationHint(%v) is empty", k)
		}
	}
	if RemediationHint(KindPermissionDenied) == RemediationHint(KindElementNotFound) {
		t.Error("Expected kind-specific hints")
	}
}

func TestParseErrorKind(t *testing.T) {
	for k := KindUnknown; k <= KindActionFailed; k++ {
		got, ok := ParseErrorKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseErrorKind(%q) = (%v, %v), want (%v, true)", k.String(), got, ok, k)
		}
	}
	if _, ok := ParseErrorKind("bogus"); ok {
		t.Error("Expected unknown name to fail")
	}

	var k ErrorKind
	if err := k.UnmarshalText([]byte("element_not_found")); err != nil || k != KindElementNotFound {
		t.Errorf("UnmarshalText() = %v, kind %v", err, k)
	}
	if err := k.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("Expected error for unknown kind")
	}
}
