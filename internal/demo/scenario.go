package demo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aporthq/aport-go/pkg/flow"
)

//go:embed scenarios.yaml
var defaultScenarioFile []byte

// Scenario is one scripted workflow pass with an expected outcome.
type Scenario struct {
	// Name labels the scenario in reports.
	Name string `yaml:"name"`
	// AgentID is the acting agent.
	AgentID string `yaml:"agent_id"`
	// Workflow names the workflow to run: basic, multi-stage or
	// error-handling.
	Workflow string `yaml:"workflow"`
	// Task is the workflow input: task text (basic), task type
	// (multi-stage) or operation name (error-handling). Empty picks the
	// workflow default.
	Task string `yaml:"task,omitempty"`
	// Strict overrides the workflow's default enforcement mode.
	Strict *bool `yaml:"strict,omitempty"`
	// Expect is the outcome the run must produce: completed, fallback,
	// rejected or error.
	Expect string `yaml:"expect"`
}

func (s Scenario) validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.AgentID == "" {
		return errors.New("agent_id is required")
	}
	if !KnownWorkflow(s.Workflow) {
		return fmt.Errorf("unknown workflow %q", s.Workflow)
	}
	switch s.Expect {
	case OutcomeCompleted, OutcomeFallback, OutcomeRejected, OutcomeError:
		return nil
	case "":
		return errors.New("expect is required")
	default:
		return fmt.Errorf("unknown expectation %q", s.Expect)
	}
}

type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// ParseScenarios decodes and validates a scenario list.
func ParseScenarios(data []byte) ([]Scenario, error) {
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("demo: parse scenarios: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, errors.New("demo: scenario file lists no scenarios")
	}
	for i, sc := range file.Scenarios {
		if err := sc.validate(); err != nil {
			return nil, fmt.Errorf("demo: scenario %d (%s): %w", i+1, sc.Name, err)
		}
	}
	return file.Scenarios, nil
}

// LoadScenarios reads a scenario list from a YAML file.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("demo: read scenario file: %w", err)
	}
	return ParseScenarios(data)
}

// DefaultScenarios returns the embedded scenario set.
func DefaultScenarios() []Scenario {
	scenarios, err := ParseScenarios(defaultScenarioFile)
	if err != nil {
		// The embedded file ships with the binary and is covered by tests.
		panic(err)
	}
	return scenarios
}

// ScenarioResult grades one scenario run.
type ScenarioResult struct {
	Scenario Scenario
	Outcome  string
	Passed   bool
	State    flow.State
	Err      error
}

// RunScenario executes one scenario and grades it against its expectation.
func (r *Runner) RunScenario(ctx context.Context, sc Scenario) ScenarioResult {
	strict := DefaultStrict(sc.Workflow)
	if sc.Strict != nil {
		strict = *sc.Strict
	}

	state, err := r.RunWorkflow(ctx, sc.Workflow, sc.AgentID, sc.Task, strict)
	pass := PassResult{
		Workflow: sc.Workflow,
		AgentID:  sc.AgentID,
		Task:     sc.Task,
		Strict:   strict,
		State:    state,
		Err:      err,
	}

	outcome := pass.Outcome()
	return ScenarioResult{
		Scenario: sc,
		Outcome:  outcome,
		Passed:   outcome == sc.Expect,
		State:    state,
		Err:      err,
	}
}

// RunScenarios executes every scenario in order and returns the results
// alongside the count of missed expectations.
func (r *Runner) RunScenarios(ctx context.Context, scenarios []Scenario) ([]ScenarioResult, int) {
	results := make([]ScenarioResult, 0, len(scenarios))
	failed := 0
	for _, sc := range scenarios {
		res := r.RunScenario(ctx, sc)
		if res.Passed {
			r.logger.Info("scenario passed",
				"scenario", sc.Name, "outcome", res.Outcome)
		} else {
			failed++
			r.logger.Warn("scenario expectation not met",
				"scenario", sc.Name,
				"expected", sc.Expect,
				"outcome", res.Outcome,
				"error", res.Err)
		}
		results = append(results, res)
	}
	return results, failed
}
