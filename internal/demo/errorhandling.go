package demo

import (
	"context"
	"fmt"

	"github.com/aporthq/aport-go/pkg/flow"
	"github.com/aporthq/aport-go/pkg/guard"
)

// Policies checked by the error-handling workflow.
const (
	errorHandlingDefaultPolicy = "workflow.error_handling.v1"
	riskyPolicy                = "operations.risky.v1"
	gracefulPolicy             = "operations.graceful.v1"
)

// RunErrorHandling executes the degradation workflow. It is built for
// graceful mode: a failed or denied verification marks the state instead of
// aborting, and the second node downgrades to a limited result. In strict
// mode it behaves like any other gated workflow and rejects at the first
// node.
func (r *Runner) RunErrorHandling(ctx context.Context, agentID, operation string, strict bool) (flow.State, error) {
	gate := guard.New(r.verifier,
		guard.WithDefaultPolicy(errorHandlingDefaultPolicy),
		guard.WithStrictMode(strict),
		guard.WithLogger(r.logger),
	)

	graph := flow.New()
	graph.AddNode("risky_operation", gate.WrapNode("risky_operation", riskyOperation,
		guard.WithPolicy(riskyPolicy)))
	graph.AddNode("graceful_degradation", gate.WrapNode("graceful_degradation", gracefulDegradation,
		guard.WithPolicy(gracefulPolicy)))
	graph.SetEntryPoint("risky_operation")
	graph.AddEdge("risky_operation", "graceful_degradation")
	graph.AddEdge("graceful_degradation", flow.End)

	compiled, err := graph.Compile()
	if err != nil {
		return nil, fmt.Errorf("demo: compile error-handling workflow: %w", err)
	}

	r.logger.Info("running error-handling workflow",
		"agent_id", agentID, "operation", operation, "strict", strict)

	state := flow.State{
		"agent_id":      agentID,
		"operation":     operation,
		"status":        "pending",
		"fallback_used": false,
	}
	return compiled.Invoke(flow.WithConfig(ctx, map[string]any{"agent_id": agentID}), state)
}

// riskyOperation attempts the gated operation.
func riskyOperation(_ context.Context, state flow.State) (flow.State, error) {
	operation, _ := state["operation"].(string)
	state["status"] = "attempted"
	state["result"] = "Attempted: " + operation
	return state, nil
}

// gracefulDegradation downgrades to a limited result when an earlier gate
// recorded a verification failure, and completes in full otherwise.
func gracefulDegradation(_ context.Context, state flow.State) (flow.State, error) {
	operation, _ := state["operation"].(string)
	state["status"] = "completed"
	if detail, ok := guard.ErrorFrom(state); ok && detail != "" {
		state["result"] = fmt.Sprintf("Limited operation completed (verification failed): %s", operation)
		state["fallback_used"] = true
		return state, nil
	}
	state["result"] = fmt.Sprintf("Full operation completed: %s", operation)
	return state, nil
}
