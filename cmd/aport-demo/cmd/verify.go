package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aporthq/aport-go/pkg/aport"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Request one policy decision for an agent",
	Long: `Request one policy decision and print the decision document.

The decision comes from the configured verification service, or from the
deterministic in-process mock with --mock (agents whose id carries a
"denied" marker are denied, everyone else is allowed).

Examples:
  # Ask the hosted service (requires client.api_key in config or APORT_API_KEY)
  aport-demo verify --agent agt_finance_bot --policy finance.payment.refund.v1

  # Offline, against the built-in mock, with extra decision context
  aport-demo verify --mock --agent agt_user_denied --policy data.export.v1 \
    --context action=export --context dataset=orders

  # Full wire document as YAML
  aport-demo verify --mock --agent agt_x --policy p.v1 --output yaml`,
	RunE: runVerify,
}

var (
	verifyAgent   string
	verifyPolicy  string
	verifyContext []string
	verifyIdemKey string
	verifyMock    bool
	verifyOutput  string
)

func init() {
	verifyCmd.Flags().StringVar(&verifyAgent, "agent", "", "agent id to verify (required)")
	verifyCmd.Flags().StringVar(&verifyPolicy, "policy", "", "policy id to evaluate (required)")
	verifyCmd.Flags().StringArrayVar(&verifyContext, "context", nil, "context entry as key=value (repeatable)")
	verifyCmd.Flags().StringVar(&verifyIdemKey, "idempotency-key", "", "idempotency key for the decision request")
	verifyCmd.Flags().BoolVar(&verifyMock, "mock", false, "use the in-process mock verifier")
	verifyCmd.Flags().StringVar(&verifyOutput, "output", "text", "output format: text or yaml")
	_ = verifyCmd.MarkFlagRequired("agent")
	_ = verifyCmd.MarkFlagRequired("policy")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	if verifyOutput != "text" && verifyOutput != "yaml" {
		return fmt.Errorf("invalid --output %q (want text or yaml)", verifyOutput)
	}

	vctx, err := parseContextPairs(verifyContext)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(verifyMock)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	result, err := verifier.Verify(ctx, aport.VerifyRequest{
		AgentID:        verifyAgent,
		PolicyID:       verifyPolicy,
		Context:        vctx,
		IdempotencyKey: verifyIdemKey,
	})
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if verifyOutput == "yaml" {
		return printYAML(cmd.OutOrStdout(), result)
	}
	printDecision(cmd.OutOrStdout(), verifyAgent, verifyPolicy, result)
	return nil
}

// parseContextPairs converts repeated key=value flags into the decision
// context map.
func parseContextPairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vctx := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context entry %q (want key=value)", pair)
		}
		vctx[key] = value
	}
	return vctx, nil
}

// printDecision renders the decision as human-readable text.
func printDecision(w io.Writer, agentID, policyID string, result *aport.VerifyResult) {
	verdict := "DENIED"
	if result.Decision.Allow {
		verdict = "ALLOWED"
	}
	fmt.Fprintln(w, verdict)
	fmt.Fprintf(w, "  Agent:       %s\n", agentID)
	fmt.Fprintf(w, "  Policy:      %s\n", policyID)
	fmt.Fprintf(w, "  Decision ID: %s\n", result.Decision.DecisionID)
	fmt.Fprintf(w, "  Assurance:   %s\n", result.Decision.AssuranceLevel)
	fmt.Fprintf(w, "  Expires in:  %ds\n", result.Decision.ExpiresIn)
	for _, reason := range result.Decision.Reasons {
		fmt.Fprintf(w, "  Reason:      [%s] %s\n", reason.Code, reason.Message)
	}
	if p := result.Passport; p != nil {
		fmt.Fprintf(w, "  Capabilities: %s\n", strings.Join(p.Capabilities, ", "))
	}
}

// printYAML renders the decision document as YAML. It goes through JSON
// first so the field names match the HTTP API exactly.
func printYAML(w io.Writer, result *aport.VerifyResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
