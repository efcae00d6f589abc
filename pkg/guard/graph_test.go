package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/aporthq/aport-go/pkg/flow"
)

func buildPipeline(t *testing.T, validated, processed *int) *flow.Graph {
	t.Helper()
	g := flow.New()
	g.AddNode("validate", func(_ context.Context, state flow.State) (flow.State, error) {
		*validated++
		state["valid"] = true
		return state, nil
	})
	g.AddNode("process", func(_ context.Context, state flow.State) (flow.State, error) {
		*processed++
		state["result"] = "done"
		return state, nil
	})
	g.AddEdge("validate", "process")
	g.SetEntryPoint("validate")
	g.SetFinishPoint("process")
	return g
}

func TestProtectGraphWrapsEveryNode(t *testing.T) {
	sv := &scriptedVerifier{}
	gate := New(sv, WithDefaultPolicy("workflow.basic.v1"), WithLogger(discardLogger()))

	var validated, processed int
	graph := buildPipeline(t, &validated, &processed)

	protected := gate.ProtectGraph(graph, map[string]string{"process": "workflow.advanced.v1"})
	compiled, err := protected.Compile()
	if err != nil {
		t.Fatalf("compile protected graph: %v", err)
	}

	state, err := compiled.Invoke(context.Background(), flow.State{"agent_id": "agt_helper"})
	if err != nil {
		t.Fatalf("invoke protected graph: %v", err)
	}
	if validated != 1 || processed != 1 {
		t.Errorf("node runs = %d/%d, want 1/1", validated, processed)
	}
	if state["result"] != "done" {
		t.Errorf("result = %v, want done", state["result"])
	}

	if sv.calls() != 2 {
		t.Fatalf("verifier called %d times, want one call per node", sv.calls())
	}
	if got := sv.request(0).PolicyID; got != "workflow.basic.v1" {
		t.Errorf("validate policy = %q, want gate default workflow.basic.v1", got)
	}
	if got := sv.request(1).PolicyID; got != "workflow.advanced.v1" {
		t.Errorf("process policy = %q, want override workflow.advanced.v1", got)
	}
}

func TestProtectGraphLeavesOriginalUntouched(t *testing.T) {
	sv := &scriptedVerifier{}
	gate := New(sv, WithLogger(discardLogger()))

	var validated, processed int
	graph := buildPipeline(t, &validated, &processed)

	_ = gate.ProtectGraph(graph, nil)

	compiled, err := graph.Compile()
	if err != nil {
		t.Fatalf("compile original graph: %v", err)
	}
	// No agent identity in state: the unprotected original must still run.
	if _, err := compiled.Invoke(context.Background(), flow.State{}); err != nil {
		t.Fatalf("invoke original graph: %v", err)
	}
	if sv.calls() != 0 {
		t.Errorf("verifier called %d times, original graph must stay unwrapped", sv.calls())
	}
	if validated != 1 || processed != 1 {
		t.Errorf("node runs = %d/%d, want 1/1", validated, processed)
	}
}

func TestProtectGraphDenialStopsRun(t *testing.T) {
	sv := &scriptedVerifier{}
	gate := New(sv, WithLogger(discardLogger()))

	var validated, processed int
	protected := gate.ProtectGraph(buildPipeline(t, &validated, &processed), nil)
	compiled, err := protected.Compile()
	if err != nil {
		t.Fatalf("compile protected graph: %v", err)
	}

	_, err = compiled.Invoke(context.Background(), flow.State{"agent_id": "agt_denied"})
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("errors.Is(err, ErrDenied) = false, err = %v", err)
	}
	if validated != 0 || processed != 0 {
		t.Errorf("node runs = %d/%d, want 0/0 after first-node denial", validated, processed)
	}
	if sv.calls() != 1 {
		t.Errorf("verifier called %d times, want 1 (run stops at first denial)", sv.calls())
	}
}

func TestVerifyTransition(t *testing.T) {
	sv := &scriptedVerifier{}
	gate := New(sv, WithDefaultPolicy("workflow.transition.v1"), WithLogger(discardLogger()))

	outcome, err := gate.VerifyTransition(context.Background(), "agt_helper", "draft", "published",
		map[string]any{"doc_id": "doc_1", "rev": 3})
	if err != nil {
		t.Fatalf("VerifyTransition returned error: %v", err)
	}
	if outcome.Operation != "transition_draft_to_published" {
		t.Errorf("operation = %q, want transition_draft_to_published", outcome.Operation)
	}

	got := sv.request(0).Context
	if got["transition"] != "draft -> published" {
		t.Errorf("context transition = %v, want %q", got["transition"], "draft -> published")
	}
	if got["from_state"] != "draft" || got["to_state"] != "published" {
		t.Errorf("context states = %v/%v, want draft/published", got["from_state"], got["to_state"])
	}
	if got["state_data_size"] != 2 {
		t.Errorf("context state_data_size = %v, want 2", got["state_data_size"])
	}
}

func TestVerifyTransitionDenied(t *testing.T) {
	sv := &scriptedVerifier{}
	gate := New(sv, WithLogger(discardLogger()))

	_, err := gate.VerifyTransition(context.Background(), "agt_denied", "review", "approved", nil)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error %v does not wrap *DeniedError", err)
	}
	if denied.Operation != "transition_review_to_approved" {
		t.Errorf("denied operation = %q, want transition_review_to_approved", denied.Operation)
	}
}
