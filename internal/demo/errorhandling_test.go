package demo

import (
	"context"
	"errors"
	"testing"

	"github.com/aporthq/aport-go/pkg/guard"
)

func TestRunErrorHandling_GracefulFallback(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	state, err := r.RunErrorHandling(context.Background(), DeniedAgent, "sensitive_data_access", false)
	if err != nil {
		t.Fatalf("RunErrorHandling() error = %v", err)
	}

	if used, _ := state["fallback_used"].(bool); !used {
		t.Error("fallback_used = false, want true for a denied agent in graceful mode")
	}
	want := "Limited operation completed (verification failed): sensitive_data_access"
	if got, _ := state["result"].(string); got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
	if _, ok := guard.ErrorFrom(state); !ok {
		t.Error("graceful run did not record the verification failure")
	}
}

func TestRunErrorHandling_VerifiedFullPath(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	state, err := r.RunErrorHandling(context.Background(), AuthorizedAgent, "safe_data_access", false)
	if err != nil {
		t.Fatalf("RunErrorHandling() error = %v", err)
	}

	if used, _ := state["fallback_used"].(bool); used {
		t.Error("fallback_used = true, want false for a verified agent")
	}
	want := "Full operation completed: safe_data_access"
	if got, _ := state["result"].(string); got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
	if _, ok := guard.ErrorFrom(state); ok {
		t.Error("verified run recorded a verification failure")
	}
	if _, ok := guard.OutcomeFrom(state); !ok {
		t.Error("verified run did not attach the verification outcome")
	}
}

func TestRunErrorHandling_StrictRejects(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	_, err := r.RunErrorHandling(context.Background(), DeniedAgent, "sensitive_data_access", true)
	if !errors.Is(err, guard.ErrRejected) {
		t.Fatalf("RunErrorHandling() error = %v, want guard.ErrRejected", err)
	}
	if !errors.Is(err, guard.ErrDenied) {
		t.Errorf("RunErrorHandling() error = %v, want it to wrap guard.ErrDenied", err)
	}
}
