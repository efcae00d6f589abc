package decisionlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aporthq/aport-go/pkg/aport"
)

type stubVerifier struct {
	err   error
	calls int
}

func (s *stubVerifier) Verify(_ context.Context, req aport.VerifyRequest) (*aport.VerifyResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return aport.MockDecision(req.AgentID, req.PolicyID, time.Now().UTC()), nil
}

type failingStore struct {
	MemoryStore
}

func (f *failingStore) Append(context.Context, ...Record) error {
	return errors.New("disk full")
}

func TestRecordingVerifier_RecordsDecisions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	rv := NewRecordingVerifier(&stubVerifier{}, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	allowReq := aport.VerifyRequest{
		AgentID:        "agt_helper",
		PolicyID:       "workflow.basic.v1",
		Context:        map[string]any{"operation": "process_task"},
		IdempotencyKey: "key-1",
	}
	if _, err := rv.Verify(ctx, allowReq); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if _, err := rv.Verify(ctx, aport.VerifyRequest{AgentID: "agt_denied", PolicyID: "admin.access.v1"}); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent() returned %d records, want 2", len(recent))
	}

	denied := recent[0]
	if denied.AgentID != "agt_denied" || denied.Allow {
		t.Errorf("newest record = %+v, want denial for agt_denied", denied)
	}
	if len(denied.Reasons) == 0 {
		t.Error("denial recorded without reasons")
	}

	allowed := recent[1]
	if !allowed.Allow {
		t.Error("allow decision recorded as denial")
	}
	if allowed.Operation != "process_task" {
		t.Errorf("operation = %q, want process_task", allowed.Operation)
	}
	if allowed.IdempotencyKey != "key-1" {
		t.Errorf("idempotency key = %q, want key-1", allowed.IdempotencyKey)
	}
	if allowed.ID == "" || allowed.DecisionID == "" {
		t.Errorf("record ids = %q/%q, want non-empty", allowed.ID, allowed.DecisionID)
	}
}

func TestRecordingVerifier_SkipsFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	cause := errors.New("service down")
	rv := NewRecordingVerifier(&stubVerifier{err: cause}, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := rv.Verify(ctx, aport.VerifyRequest{AgentID: "agt_helper", PolicyID: "workflow.basic.v1"})
	if !errors.Is(err, cause) {
		t.Fatalf("Verify() error = %v, want passthrough of %v", err, cause)
	}

	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("failure recorded %d records, want 0", len(recent))
	}
}

func TestRecordingVerifier_AppendFailureDoesNotFailVerify(t *testing.T) {
	t.Parallel()

	rv := NewRecordingVerifier(&stubVerifier{}, &failingStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := rv.Verify(context.Background(), aport.VerifyRequest{AgentID: "agt_helper", PolicyID: "workflow.basic.v1"})
	if err != nil {
		t.Fatalf("Verify() error: %v, want decision despite store failure", err)
	}
	if !result.Decision.Allow {
		t.Error("decision lost on store failure")
	}
}
