package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aporthq/aport-go/internal/demo"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run the gated demo workflows",
	Long: `Run the demonstration workflows whose nodes are gated by policies.

Each workflow runs twice: once as the authorized agent (--agent, default
agt_authorized_user) and once as agt_user_denied, so a single invocation
shows the allow and the deny path.

Workflows:
  basic           two-step task workflow with a conditional edge
  multi-stage     validate -> execute (by task type) -> audit
  error-handling  graceful degradation when verification fails

Examples:
  aport-demo workflow basic --mock
  aport-demo workflow multi-stage --mock --agent agt_data_steward
  aport-demo workflow error-handling --mock --strict=false
  aport-demo workflow scenarios --mock
  aport-demo workflow scenarios --mock --file my-scenarios.yaml`,
}

var (
	workflowAgent  string
	workflowStrict bool
	workflowMock   bool
	scenarioPath   string
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Run the scripted scenario set",
	Long: `Run a YAML-defined list of workflow passes and grade each outcome
against its expectation. Without --file the embedded default set runs.`,
	RunE: runScenarios,
}

func init() {
	workflowCmd.PersistentFlags().StringVar(&workflowAgent, "agent", "", "agent id for the authorized pass (default agt_authorized_user)")
	workflowCmd.PersistentFlags().BoolVar(&workflowStrict, "strict", true, "strict mode: reject on verification failure instead of annotating")
	workflowCmd.PersistentFlags().BoolVar(&workflowMock, "mock", false, "use the in-process mock verifier")

	scenariosCmd.Flags().StringVar(&scenarioPath, "file", "", "scenario YAML file (default: embedded set)")

	workflowCmd.AddCommand(
		newWorkflowRunCmd(demo.WorkflowBasic, "Run the two-step task workflow"),
		newWorkflowRunCmd(demo.WorkflowMultiStage, "Run the staged data workflow"),
		newWorkflowRunCmd(demo.WorkflowErrorHandling, "Run the graceful degradation workflow"),
		scenariosCmd,
	)
	rootCmd.AddCommand(workflowCmd)
}

func newWorkflowRunCmd(workflow, short string) *cobra.Command {
	return &cobra.Command{
		Use:   workflow,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkflowDemo(cmd, workflow)
		},
	}
}

func runWorkflowDemo(cmd *cobra.Command, workflow string) error {
	runner, err := newDemoRunner()
	if err != nil {
		return err
	}

	// The --strict default depends on the workflow; only an explicit flag
	// overrides it.
	strict := demo.DefaultStrict(workflow)
	if cmd.Flags().Changed("strict") {
		strict = workflowStrict
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	results, err := runner.Demo(ctx, workflow, workflowAgent, strict)
	if err != nil {
		return err
	}
	printPasses(cmd.OutOrStdout(), results)
	return nil
}

func runScenarios(cmd *cobra.Command, _ []string) error {
	runner, err := newDemoRunner()
	if err != nil {
		return err
	}

	scenarios := demo.DefaultScenarios()
	if scenarioPath != "" {
		scenarios, err = demo.LoadScenarios(scenarioPath)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	results, failed := runner.RunScenarios(ctx, scenarios)
	printScenarioResults(cmd.OutOrStdout(), results, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}

func newDemoRunner() (*demo.Runner, error) {
	cfg, err := loadConfig(workflowMock)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	return demo.NewRunner(verifier, demo.WithLogger(logger)), nil
}

func printPasses(w io.Writer, results []demo.PassResult) {
	for _, pass := range results {
		fmt.Fprintf(w, "%-9s  agent=%s task=%q\n", strings.ToUpper(pass.Outcome()), pass.AgentID, pass.Task)
		if pass.Err != nil {
			fmt.Fprintf(w, "           %v\n", pass.Err)
			continue
		}
		if result := pass.Result(); result != "" {
			fmt.Fprintf(w, "           %s\n", result)
		}
	}
}

func printScenarioResults(w io.Writer, results []demo.ScenarioResult, failed int) {
	for _, res := range results {
		mark := "PASS"
		if !res.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "%s  %-50s  expect=%-9s outcome=%s\n",
			mark, res.Scenario.Name, res.Scenario.Expect, res.Outcome)
	}
	fmt.Fprintf(w, "\n%d scenarios, %d failed\n", len(results), failed)
}
