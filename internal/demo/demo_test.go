package demo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"go.uber.org/goleak"

	"github.com/aporthq/aport-go/pkg/aport"
	"github.com/aporthq/aport-go/pkg/flow"
	"github.com/aporthq/aport-go/pkg/guard"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRunner wires a runner to the zero-latency mock verifier, so runs
// are deterministic: any agent id carrying "denied" is denied.
func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	logger := discardLogger()
	verifier := aport.NewMock(aport.MockLatency(0), aport.MockLogger(logger))
	return NewRunner(verifier, WithLogger(logger))
}

func TestRunWorkflow_Unknown(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	_, err := r.RunWorkflow(context.Background(), "does-not-exist", AuthorizedAgent, "", true)
	if err == nil {
		t.Fatal("RunWorkflow() accepted an unknown workflow")
	}
}

func TestRunWorkflow_EmptyTaskUsesDefault(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	state, err := r.RunWorkflow(context.Background(), WorkflowBasic, AuthorizedAgent, "", true)
	if err != nil {
		t.Fatalf("RunWorkflow() error = %v", err)
	}
	want := "Completed: " + DefaultTask(WorkflowBasic, false)
	if got, _ := state["result"].(string); got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
}

func TestKnownWorkflow(t *testing.T) {
	t.Parallel()
	for _, name := range []string{WorkflowBasic, WorkflowMultiStage, WorkflowErrorHandling} {
		if !KnownWorkflow(name) {
			t.Errorf("KnownWorkflow(%q) = false, want true", name)
		}
	}
	if KnownWorkflow("langgraph") {
		t.Error(`KnownWorkflow("langgraph") = true, want false`)
	}
}

func TestDefaultStrict(t *testing.T) {
	t.Parallel()
	if !DefaultStrict(WorkflowBasic) || !DefaultStrict(WorkflowMultiStage) {
		t.Error("basic and multi-stage workflows should default to strict")
	}
	if DefaultStrict(WorkflowErrorHandling) {
		t.Error("error-handling workflow should default to graceful")
	}
}

func TestDemo_RunsBothAgents(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	results, err := r.Demo(context.Background(), WorkflowBasic, "", true)
	if err != nil {
		t.Fatalf("Demo() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Demo() returned %d passes, want 2", len(results))
	}

	first, second := results[0], results[1]
	if first.AgentID != AuthorizedAgent {
		t.Errorf("first pass agent = %q, want %q", first.AgentID, AuthorizedAgent)
	}
	if got := first.Outcome(); got != OutcomeCompleted {
		t.Errorf("first pass outcome = %q, want %q", got, OutcomeCompleted)
	}
	if second.AgentID != DeniedAgent {
		t.Errorf("second pass agent = %q, want %q", second.AgentID, DeniedAgent)
	}
	if got := second.Outcome(); got != OutcomeRejected {
		t.Errorf("second pass outcome = %q, want %q", got, OutcomeRejected)
	}
	if !errors.Is(second.Err, guard.ErrRejected) {
		t.Errorf("second pass error = %v, want guard.ErrRejected", second.Err)
	}
}

func TestDemo_UnknownWorkflow(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	if _, err := r.Demo(context.Background(), "nope", "", true); err == nil {
		t.Fatal("Demo() accepted an unknown workflow")
	}
}

func TestPassResult_Outcome(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pass PassResult
		want string
	}{
		{
			name: "clean state completes",
			pass: PassResult{State: flow.State{"status": "completed"}},
			want: OutcomeCompleted,
		},
		{
			name: "fallback marker wins over completion",
			pass: PassResult{State: flow.State{"status": "completed", "fallback_used": true}},
			want: OutcomeFallback,
		},
		{
			name: "gate rejection",
			pass: PassResult{Err: &guard.RejectionError{Operation: "x", Err: guard.ErrIdentityMissing}},
			want: OutcomeRejected,
		},
		{
			name: "other errors",
			pass: PassResult{Err: errors.New("boom")},
			want: OutcomeError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.pass.Outcome(); got != tt.want {
				t.Errorf("Outcome() = %q, want %q", got, tt.want)
			}
		})
	}
}
