package demo

import (
	"context"
	"fmt"

	"github.com/aporthq/aport-go/pkg/flow"
	"github.com/aporthq/aport-go/pkg/guard"
)

// Policies checked by the basic workflow.
const (
	basicDefaultPolicy = "workflow.basic.v1"
	processPolicy      = "workflow.process.v1"
	completePolicy     = "workflow.complete.v1"
)

// RunBasic executes the two-step task workflow: a gated processing node
// followed, through a conditional edge, by a gated completion node. In
// strict mode a denied agent is rejected at process_task and the run aborts
// with the partial state.
func (r *Runner) RunBasic(ctx context.Context, agentID, task string, strict bool) (flow.State, error) {
	gate := guard.New(r.verifier,
		guard.WithDefaultPolicy(basicDefaultPolicy),
		guard.WithStrictMode(strict),
		guard.WithLogger(r.logger),
	)

	graph := flow.New()
	graph.AddNode("process_task", gate.WrapNode("process_task", processTask,
		guard.WithPolicy(processPolicy)))
	graph.AddNode("complete_task", gate.WrapNode("complete_task", completeTask,
		guard.WithPolicy(completePolicy)))
	graph.SetEntryPoint("process_task")
	graph.AddConditionalEdges("process_task", shouldComplete, map[string]string{
		"complete_task": "complete_task",
		"end":           flow.End,
	})
	graph.AddEdge("complete_task", flow.End)

	compiled, err := graph.Compile()
	if err != nil {
		return nil, fmt.Errorf("demo: compile basic workflow: %w", err)
	}

	r.logger.Info("running basic workflow",
		"agent_id", agentID, "task", task, "strict", strict)

	state := flow.State{
		"agent_id": agentID,
		"task":     task,
		"status":   "pending",
		"result":   "",
		"steps":    []string{},
	}
	return compiled.Invoke(flow.WithConfig(ctx, map[string]any{"agent_id": agentID}), state)
}

// processTask starts work on the task.
func processTask(_ context.Context, state flow.State) (flow.State, error) {
	task, _ := state["task"].(string)
	state["status"] = "processing"
	state["steps"] = appendStep(state, "task_started")
	state["result"] = "Processing: " + task
	return state, nil
}

// completeTask finishes a task that reached processing.
func completeTask(_ context.Context, state flow.State) (flow.State, error) {
	task, _ := state["task"].(string)
	state["status"] = "completed"
	state["steps"] = appendStep(state, "task_completed")
	state["result"] = "Completed: " + task
	return state, nil
}

// shouldComplete routes in-flight tasks to the completion node.
func shouldComplete(state flow.State) string {
	if status, _ := state["status"].(string); status == "processing" {
		return "complete_task"
	}
	return "end"
}

func appendStep(state flow.State, step string) []string {
	steps, _ := state["steps"].([]string)
	return append(steps, step)
}
