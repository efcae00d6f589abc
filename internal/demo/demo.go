// Package demo assembles the runnable demonstration workflows shipped with
// the CLI. Each workflow builds a small graph whose nodes are gated by
// verification policies, then runs it for a chosen agent so the allow and
// deny paths can be observed end to end against a mock or live verifier.
package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aporthq/aport-go/pkg/aport"
	"github.com/aporthq/aport-go/pkg/flow"
	"github.com/aporthq/aport-go/pkg/guard"
)

// Canned demo agents. The mock verifier denies any agent whose id carries a
// "denied" marker, so this pair exercises both decision paths.
const (
	AuthorizedAgent = "agt_authorized_user"
	DeniedAgent     = "agt_user_denied"
)

// Workflow names accepted by RunWorkflow and scenario files.
const (
	WorkflowBasic         = "basic"
	WorkflowMultiStage    = "multi-stage"
	WorkflowErrorHandling = "error-handling"
)

// Pass outcomes. Scenario expectations are written in the same vocabulary.
const (
	OutcomeCompleted = "completed"
	OutcomeFallback  = "fallback"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Runner executes demonstration workflows against a verifier.
type Runner struct {
	verifier aport.Verifier
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger. Nil keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner returns a Runner whose workflow nodes verify agents through the
// given verifier.
func NewRunner(verifier aport.Verifier, opts ...Option) *Runner {
	r := &Runner{
		verifier: verifier,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// KnownWorkflow reports whether name is a runnable workflow.
func KnownWorkflow(name string) bool {
	switch name {
	case WorkflowBasic, WorkflowMultiStage, WorkflowErrorHandling:
		return true
	}
	return false
}

// DefaultStrict returns the enforcement mode a workflow demonstrates when
// the caller does not choose one. The degradation workflow exists to show
// graceful mode; everything else defaults to strict.
func DefaultStrict(workflow string) bool {
	return workflow != WorkflowErrorHandling
}

// DefaultTask returns the canned input for a workflow pass: the task text
// for the basic workflow, the task type for the multi-stage workflow, the
// operation name for the error-handling one. The denied variant mirrors the
// kind of request that should get an agent denied.
func DefaultTask(workflow string, denied bool) string {
	switch workflow {
	case WorkflowBasic:
		if denied {
			return "Delete user data"
		}
		return "Analyze customer data"
	case WorkflowMultiStage:
		if denied {
			return "delete"
		}
		return "read"
	case WorkflowErrorHandling:
		return "sensitive_data_access"
	}
	return ""
}

// RunWorkflow dispatches one pass of the named workflow. An empty task picks
// the workflow default.
func (r *Runner) RunWorkflow(ctx context.Context, workflow, agentID, task string, strict bool) (flow.State, error) {
	if task == "" {
		task = DefaultTask(workflow, false)
	}
	switch workflow {
	case WorkflowBasic:
		return r.RunBasic(ctx, agentID, task, strict)
	case WorkflowMultiStage:
		return r.RunMultiStage(ctx, agentID, task, strict)
	case WorkflowErrorHandling:
		return r.RunErrorHandling(ctx, agentID, task, strict)
	}
	return nil, fmt.Errorf("demo: unknown workflow %q (want %q, %q or %q)",
		workflow, WorkflowBasic, WorkflowMultiStage, WorkflowErrorHandling)
}

// PassResult is one agent's pass through a workflow.
type PassResult struct {
	Workflow string
	AgentID  string
	Task     string
	Strict   bool
	State    flow.State
	Err      error
}

// Outcome classifies the pass for reporting.
func (p PassResult) Outcome() string {
	switch {
	case errors.Is(p.Err, guard.ErrRejected):
		return OutcomeRejected
	case p.Err != nil:
		return OutcomeError
	}
	if used, _ := p.State["fallback_used"].(bool); used {
		return OutcomeFallback
	}
	return OutcomeCompleted
}

// Result returns the workflow's final result text, empty when none was set.
func (p PassResult) Result() string {
	result, _ := p.State["result"].(string)
	return result
}

// Demo runs the named workflow twice, once as agentID (AuthorizedAgent when
// empty) and once as DeniedAgent, so a single invocation shows both decision
// paths. Verification failures surface in the pass results, not as an error.
func (r *Runner) Demo(ctx context.Context, workflow, agentID string, strict bool) ([]PassResult, error) {
	if !KnownWorkflow(workflow) {
		return nil, fmt.Errorf("demo: unknown workflow %q", workflow)
	}
	if agentID == "" {
		agentID = AuthorizedAgent
	}

	passes := []struct {
		agentID string
		task    string
	}{
		{agentID, DefaultTask(workflow, false)},
		{DeniedAgent, DefaultTask(workflow, true)},
	}

	results := make([]PassResult, 0, len(passes))
	for _, pass := range passes {
		state, err := r.RunWorkflow(ctx, workflow, pass.agentID, pass.task, strict)
		results = append(results, PassResult{
			Workflow: workflow,
			AgentID:  pass.agentID,
			Task:     pass.task,
			Strict:   strict,
			State:    state,
			Err:      err,
		})
	}
	return results, nil
}
