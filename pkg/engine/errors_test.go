package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewModuleLoadError(t *testing.T) {
	cause := errors.New("no such file")
	err := NewModuleLoadError("stacks.star", cause)

	if !IsModuleLoadError(err) {
		t.Error("expected IsModuleLoadError to be true")
	}
	if IsReconcilerError(err) {
		t.Error("expected IsReconcilerError to be false")
	}
	if !IsPermanent(err) {
		t.Error("module load errors should be permanent")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to be reachable with errors.Is")
	}

	want := "[permanent] failed to load module (resource=stacks.star, operation=load): no such file"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNewReconcilerError(t *testing.T) {
	t.Run("plain cause is permanent", func(t *testing.T) {
		err := NewReconcilerError("db", ModeApply, errors.New("boom"))
		if !IsReconcilerError(err) {
			t.Error("expected IsReconcilerError to be true")
		}
		if !IsPermanent(err) {
			t.Error("expected permanent class")
		}
		if err.Operation != "apply" || err.Resource != "db" {
			t.Errorf("unexpected context: resource=%s operation=%s", err.Resource, err.Operation)
		}
	})

	t.Run("class of an engine error is kept", func(t *testing.T) {
		cause := NewTransientError("api unavailable", nil)
		err := NewReconcilerError("api", ModeCheck, cause)
		if !IsTransient(err) {
			t.Error("expected transient class to be preserved")
		}
		if !IsRetryable(err) {
			t.Error("expected transient reconciler error to be retryable")
		}
	})

	t.Run("detected through wrapping", func(t *testing.T) {
		err := fmt.Errorf("run failed: %w", NewReconcilerError("x", ModeCheck, errors.New("boom")))
		if !IsReconcilerError(err) {
			t.Error("expected wrapped reconciler error to be detected")
		}
	})
}

func TestEngineError_Is(t *testing.T) {
	err := NewPermanentError("denied", nil).WithCode(ErrCodePolicyDenied)

	if !errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodePolicyDenied}) {
		t.Error("expected errors.Is to match on class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassTransient, Code: ErrCodePolicyDenied}) {
		t.Error("expected class mismatch to fail")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"transient", NewTransientError("t", nil), true},
		{"throttled", NewThrottledError("t", nil), true},
		{"conflict", NewConflictError("c", nil), false},
		{"permanent", NewPermanentError("p", nil), false},
		{"plain", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestEngineError_WithDetail(t *testing.T) {
	err := NewPermanentError("bad", nil).WithDetail("key", "value")
	if err.Details["key"] != "value" {
		t.Errorf("expected detail to be stored, got %v", err.Details)
	}
	if err.Error() != "[permanent] bad" {
		t.Errorf("Error() = %q", err.Error())
	}
}
