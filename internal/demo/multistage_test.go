package demo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aporthq/aport-go/pkg/guard"
)

func TestRunMultiStage_RoutesByTaskType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		taskType     string
		resultPrefix string
		stageAction  string
	}{
		{"read", "Read data: ", "data_read"},
		{"write", "Wrote data: ", "data_written"},
		{"delete", "Deleted data: ", "data_deleted"},
		{"admin", "Admin action completed: ", "admin_executed"},
	}
	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			t.Parallel()
			r := newTestRunner(t)

			state, err := r.RunMultiStage(context.Background(), "agt_ops_agent", tt.taskType, true)
			if err != nil {
				t.Fatalf("RunMultiStage(%q) error = %v", tt.taskType, err)
			}

			if got, want := state["status"], "audited"; got != want {
				t.Errorf("status = %v, want %v", got, want)
			}
			result, _ := state["result"].(string)
			if !strings.HasPrefix(result, tt.resultPrefix) {
				t.Errorf("result = %q, want prefix %q", result, tt.resultPrefix)
			}

			log, _ := state["audit_log"].([]map[string]any)
			if len(log) != 3 {
				t.Fatalf("audit log has %d entries, want 3: %v", len(log), log)
			}
			if log[0]["action"] != "request_validated" {
				t.Errorf("first audit action = %v, want request_validated", log[0]["action"])
			}
			if log[1]["action"] != tt.stageAction {
				t.Errorf("stage audit action = %v, want %v", log[1]["action"], tt.stageAction)
			}
			if log[2]["action"] != "workflow_audited" {
				t.Errorf("final audit action = %v, want workflow_audited", log[2]["action"])
			}
			if log[2]["total_actions"] != 2 {
				t.Errorf("total_actions = %v, want 2", log[2]["total_actions"])
			}
		})
	}
}

func TestRunMultiStage_UnknownTaskTypeEndsAfterValidation(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	state, err := r.RunMultiStage(context.Background(), "agt_ops_agent", "format_disk", true)
	if err != nil {
		t.Fatalf("RunMultiStage() error = %v", err)
	}

	// No execution stage matches, so the run ends right after validation.
	if got, want := state["status"], "validated"; got != want {
		t.Errorf("status = %v, want %v", got, want)
	}
	log, _ := state["audit_log"].([]map[string]any)
	if len(log) != 1 || log[0]["action"] != "request_validated" {
		t.Errorf("audit log = %v, want the single validation entry", log)
	}
}

func TestRunMultiStage_DeniedStrict(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	_, err := r.RunMultiStage(context.Background(), "agt_contractor_denied", "delete", true)
	if !errors.Is(err, guard.ErrRejected) {
		t.Fatalf("RunMultiStage() error = %v, want guard.ErrRejected", err)
	}

	var denied *guard.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error %v does not wrap *guard.DeniedError", err)
	}
	// ProtectGraph gates every node, so the entry node's policy rejects first.
	if denied.PolicyID != multiStagePolicies["validate_request"] {
		t.Errorf("denied policy = %q, want %q", denied.PolicyID, multiStagePolicies["validate_request"])
	}
}

func TestRunMultiStage_GracefulAnnotatesAndFinishes(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t)

	state, err := r.RunMultiStage(context.Background(), "agt_contractor_denied", "read", false)
	if err != nil {
		t.Fatalf("RunMultiStage() error = %v", err)
	}
	if got, want := state["status"], "audited"; got != want {
		t.Errorf("status = %v, want %v", got, want)
	}
	if _, ok := guard.ErrorFrom(state); !ok {
		t.Error("graceful run did not record the verification failure")
	}
}

func TestRouteTaskType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		state map[string]any
		want  string
	}{
		{"unvalidated request ends", map[string]any{"status": "pending", "task_type": "read"}, "end"},
		{"read routes to read stage", map[string]any{"status": "validated", "task_type": "read"}, "execute_read"},
		{"write routes to write stage", map[string]any{"status": "validated", "task_type": "write"}, "execute_write"},
		{"delete routes to delete stage", map[string]any{"status": "validated", "task_type": "delete"}, "execute_delete"},
		{"admin routes to admin stage", map[string]any{"status": "validated", "task_type": "admin"}, "execute_admin"},
		{"unknown type ends", map[string]any{"status": "validated", "task_type": "reboot"}, "end"},
		{"missing type ends", map[string]any{"status": "validated"}, "end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := routeTaskType(tt.state); got != tt.want {
				t.Errorf("routeTaskType() = %q, want %q", got, tt.want)
			}
		})
	}
}
