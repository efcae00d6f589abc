package demo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aporthq/aport-go/pkg/flow"
	"github.com/aporthq/aport-go/pkg/guard"
)

const multiStageDefaultPolicy = "workflow.advanced.v1"

// multiStagePolicies maps each node of the staged workflow to the policy it
// must pass. ProtectGraph applies them as per-node overrides.
var multiStagePolicies = map[string]string{
	"validate_request": "workflow.validate.v1",
	"execute_read":     "data.read.v1",
	"execute_write":    "data.write.v1",
	"execute_delete":   "data.delete.v1",
	"execute_admin":    "system.admin.v1",
	"audit_action":     "audit.write.v1",
}

// RunMultiStage executes the staged data workflow: validation, then the
// execution stage matching taskType (read, write, delete or admin), then an
// audit step. The graph is built from plain nodes and gated wholesale with
// ProtectGraph, each node against its own policy.
func (r *Runner) RunMultiStage(ctx context.Context, agentID, taskType string, strict bool) (flow.State, error) {
	gate := guard.New(r.verifier,
		guard.WithDefaultPolicy(multiStageDefaultPolicy),
		guard.WithStrictMode(strict),
		guard.WithLogger(r.logger),
	)

	graph := flow.New()
	graph.AddNode("validate_request", validateRequest)
	graph.AddNode("execute_read", executeRead)
	graph.AddNode("execute_write", executeWrite)
	graph.AddNode("execute_delete", executeDelete)
	graph.AddNode("execute_admin", executeAdmin)
	graph.AddNode("audit_action", auditAction)
	graph.SetEntryPoint("validate_request")
	graph.AddConditionalEdges("validate_request", routeTaskType, map[string]string{
		"execute_read":   "execute_read",
		"execute_write":  "execute_write",
		"execute_delete": "execute_delete",
		"execute_admin":  "execute_admin",
		"end":            flow.End,
	})
	graph.AddEdge("execute_read", "audit_action")
	graph.AddEdge("execute_write", "audit_action")
	graph.AddEdge("execute_delete", "audit_action")
	graph.AddEdge("execute_admin", "audit_action")
	graph.AddEdge("audit_action", flow.End)

	compiled, err := gate.ProtectGraph(graph, multiStagePolicies).Compile()
	if err != nil {
		return nil, fmt.Errorf("demo: compile multi-stage workflow: %w", err)
	}

	r.logger.Info("running multi-stage workflow",
		"agent_id", agentID, "task_type", taskType, "strict", strict)

	state := flow.State{
		"agent_id":  agentID,
		"task_type": taskType,
		"task_data": map[string]any{"resource": "customer_records", "rows": 42},
		"status":    "pending",
		"audit_log": []map[string]any{},
	}
	return compiled.Invoke(flow.WithConfig(ctx, map[string]any{"agent_id": agentID}), state)
}

// validateRequest admits the request and opens the audit trail. Requests
// with an unknown task type still validate; the router ends the run for
// them instead of guessing a stage.
func validateRequest(_ context.Context, state flow.State) (flow.State, error) {
	state["status"] = "validated"
	state["audit_log"] = appendAudit(state, "request_validated")
	return state, nil
}

// routeTaskType selects the execution stage for a validated request.
func routeTaskType(state flow.State) string {
	if status, _ := state["status"].(string); status != "validated" {
		return "end"
	}
	switch taskType, _ := state["task_type"].(string); taskType {
	case "read":
		return "execute_read"
	case "write":
		return "execute_write"
	case "delete":
		return "execute_delete"
	case "admin":
		return "execute_admin"
	default:
		return "end"
	}
}

func executeRead(_ context.Context, state flow.State) (flow.State, error) {
	state["status"] = "read_completed"
	state["result"] = fmt.Sprintf("Read data: %v", state["task_data"])
	state["audit_log"] = appendAudit(state, "data_read")
	return state, nil
}

func executeWrite(_ context.Context, state flow.State) (flow.State, error) {
	state["status"] = "write_completed"
	state["result"] = fmt.Sprintf("Wrote data: %v", state["task_data"])
	state["audit_log"] = appendAudit(state, "data_written")
	return state, nil
}

func executeDelete(_ context.Context, state flow.State) (flow.State, error) {
	state["status"] = "delete_completed"
	state["result"] = fmt.Sprintf("Deleted data: %v", dataKeys(state))
	state["audit_log"] = appendAudit(state, "data_deleted")
	return state, nil
}

func executeAdmin(_ context.Context, state flow.State) (flow.State, error) {
	state["status"] = "admin_completed"
	state["result"] = fmt.Sprintf("Admin action completed: %v", state["task_data"])
	state["audit_log"] = appendAudit(state, "admin_executed")
	return state, nil
}

// auditAction closes the run with a summary entry.
func auditAction(_ context.Context, state flow.State) (flow.State, error) {
	log, _ := state["audit_log"].([]map[string]any)
	state["audit_log"] = append(log, map[string]any{
		"action":        "workflow_audited",
		"agent_id":      state["agent_id"],
		"total_actions": len(log),
	})
	state["status"] = "audited"
	return state, nil
}

func appendAudit(state flow.State, action string) []map[string]any {
	log, _ := state["audit_log"].([]map[string]any)
	return append(log, map[string]any{
		"action":    action,
		"agent_id":  state["agent_id"],
		"task_type": state["task_type"],
	})
}

// dataKeys lists the task_data keys in stable order for delete reporting.
func dataKeys(state flow.State) []string {
	data, _ := state["task_data"].(map[string]any)
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
