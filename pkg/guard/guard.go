// Package guard gates operations behind APort policy verification.
//
// A Gate wraps units of work (workflow nodes, HTTP handlers, arbitrary
// functions) so that the acting agent is verified against a policy before
// the work runs. In strict mode a failed or denied verification rejects the
// operation; in graceful mode the gate records the failure on the state and
// lets the operation proceed.
//
//	verifier, _ := aport.NewVerifier(false, logger)
//	gate := guard.New(verifier, guard.WithDefaultPolicy("workflow.basic.v1"))
//	protected := gate.WrapNode("process_task", processTask)
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aporthq/aport-go/pkg/aport"
	"github.com/aporthq/aport-go/pkg/flow"
)

// DefaultPolicy is evaluated when neither the gate nor the call names one.
const DefaultPolicy = "workflow.transition.v1"

// State annotation keys written by the gate.
const (
	// OutcomeKey holds the *Outcome of a successful verification.
	OutcomeKey = "_aport_verification"
	// ErrorKey holds the failure detail recorded in graceful mode.
	ErrorKey = "_aport_verification_error"
)

const instrumentationName = "github.com/aporthq/aport-go/pkg/guard"

// Outcome is the verification result the gate attaches to state after an
// allowed decision.
type Outcome struct {
	Verified   bool            `json:"verified"`
	AgentID    string          `json:"agent_id"`
	Policy     string          `json:"policy"`
	Operation  string          `json:"operation"`
	DecisionID string          `json:"decision_id"`
	ExpiresIn  int             `json:"expires_in"`
	CreatedAt  time.Time       `json:"created_at"`
	Passport   *aport.Passport `json:"passport,omitempty"`
}

// OutcomeFrom returns the outcome a gate attached to state, if any.
func OutcomeFrom(state map[string]any) (*Outcome, bool) {
	outcome, ok := state[OutcomeKey].(*Outcome)
	return outcome, ok
}

// ErrorFrom returns the graceful-mode failure detail attached to state.
func ErrorFrom(state map[string]any) (string, bool) {
	detail, ok := state[ErrorKey].(string)
	return detail, ok
}

// Gate verifies operations against APort policies before running them.
type Gate struct {
	verifier        aport.Verifier
	policy          string
	strict          bool
	extractor       aport.Extractor
	logger          *slog.Logger
	idempotencyKeys bool

	tracer    trace.Tracer
	decisions metric.Int64Counter
	latency   metric.Float64Histogram
}

// New returns a Gate enforcing policies through the given verifier.
func New(verifier aport.Verifier, opts ...Option) *Gate {
	g := &Gate{
		verifier: verifier,
		policy:   DefaultPolicy,
		strict:   true,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.tracer = otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)

	var err error
	g.decisions, err = meter.Int64Counter("aport.gate.decisions",
		metric.WithDescription("Verification gate decisions by result."))
	if err != nil {
		otel.Handle(err)
	}
	g.latency, err = meter.Float64Histogram("aport.gate.verify.duration",
		metric.WithDescription("Decision round-trip latency."),
		metric.WithUnit("s"))
	if err != nil {
		otel.Handle(err)
	}
	return g
}

// Strict reports whether the gate rejects operations on failure or denial.
func (g *Gate) Strict() bool {
	return g.strict
}

// Check verifies one operation for an already resolved identity and
// enforces the decision. It returns the allow outcome, a *RejectionError
// wrapping *DeniedError when the decision denies, or the wrapped client
// error when no decision could be obtained. Check itself is mode
// independent; strict versus graceful handling is applied by the wrappers
// built on top of it.
func (g *Gate) Check(ctx context.Context, operation, agentID string, metadata map[string]any, opts ...CallOption) (*Outcome, error) {
	cfg := g.callConfig(opts)

	vctx := map[string]any{
		"operation": operation,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range metadata {
		vctx[k] = v
	}
	for k, v := range cfg.extra {
		vctx[k] = v
	}

	ctx, span := g.tracer.Start(ctx, "guard.verify", trace.WithAttributes(
		attribute.String("aport.agent_id", agentID),
		attribute.String("aport.policy_id", cfg.policy),
		attribute.String("aport.operation", operation),
	))
	defer span.End()

	req := aport.VerifyRequest{
		AgentID:  agentID,
		PolicyID: cfg.policy,
		Context:  vctx,
	}
	if g.idempotencyKeys {
		req.IdempotencyKey = uuid.NewString()
	}

	start := time.Now()
	result, err := g.verifier.Verify(ctx, req)
	g.observeLatency(ctx, time.Since(start))

	if err != nil {
		g.countDecision(ctx, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		g.logger.Error("verification failed",
			"operation", operation,
			"agent_id", agentID,
			"policy_id", cfg.policy,
			"error", err)
		return nil, fmt.Errorf("verification of operation %q did not complete: %w", operation, err)
	}

	if !result.Decision.Allow {
		g.countDecision(ctx, "denied")
		span.SetAttributes(attribute.String("aport.decision_id", result.Decision.DecisionID))
		span.SetStatus(codes.Error, "denied")
		g.logger.Info("operation denied by policy",
			"operation", operation,
			"agent_id", agentID,
			"policy_id", cfg.policy,
			"decision_id", result.Decision.DecisionID,
			"reasons", len(result.Decision.Reasons))
		denied := &DeniedError{
			AgentID:    agentID,
			Operation:  operation,
			PolicyID:   cfg.policy,
			DecisionID: result.Decision.DecisionID,
			Reasons:    result.Decision.Reasons,
		}
		return nil, &RejectionError{Operation: operation, AgentID: agentID, Err: denied}
	}

	g.countDecision(ctx, "allowed")
	span.SetAttributes(attribute.String("aport.decision_id", result.Decision.DecisionID))
	g.logger.Debug("operation verified",
		"operation", operation,
		"agent_id", agentID,
		"policy_id", cfg.policy,
		"decision_id", result.Decision.DecisionID)

	return &Outcome{
		Verified:   true,
		AgentID:    agentID,
		Policy:     cfg.policy,
		Operation:  operation,
		DecisionID: result.Decision.DecisionID,
		ExpiresIn:  result.Decision.ExpiresIn,
		CreatedAt:  result.Decision.CreatedAt,
		Passport:   result.Passport,
	}, nil
}

// WrapNode returns a node function that verifies the acting agent before
// delegating to fn. The returned node carries the same signature as fn and
// can be registered in any graph.
//
// Strict mode: missing identity, a denied decision, or a verification
// failure rejects the node with an error and fn never runs. Graceful mode:
// the gate annotates the state under ErrorKey and runs fn anyway; a missing
// identity skips verification entirely.
func (g *Gate) WrapNode(name string, fn flow.NodeFunc, opts ...CallOption) flow.NodeFunc {
	return func(ctx context.Context, state flow.State) (flow.State, error) {
		if state == nil {
			state = flow.State{}
		}
		cfg := g.callConfig(opts)

		agentID, ok := aport.ExtractAgentID(state, cfg.extractor)
		if !ok {
			if g.strict {
				err := &RejectionError{Operation: name, Err: ErrIdentityMissing}
				g.logger.Error("agent identity not found in state",
					"operation", name,
					"state_keys", stateKeys(state))
				return nil, err
			}
			g.logger.Warn("agent identity not found, skipping verification",
				"operation", name)
			return fn(ctx, state)
		}

		meta := map[string]any{
			"node_name":  name,
			"state_keys": stateKeys(state),
		}
		if runCfg := flow.ConfigFrom(ctx); runCfg != nil {
			meta["config"] = runCfg
		}

		outcome, err := g.Check(ctx, name, agentID, meta, opts...)
		if err != nil {
			if g.strict {
				return nil, err
			}
			g.logger.Warn("verification not enforced, continuing",
				"operation", name,
				"agent_id", agentID,
				"error", err)
			state[ErrorKey] = err.Error()
			return fn(ctx, state)
		}

		state[OutcomeKey] = outcome
		return fn(ctx, state)
	}
}

// WrapFunc gates an arbitrary function that carries agent identity in its
// input map. It is the building block for hosts that are neither graphs nor
// HTTP servers.
func (g *Gate) WrapFunc(name string, fn func(ctx context.Context, input map[string]any) (map[string]any, error), opts ...CallOption) func(ctx context.Context, input map[string]any) (map[string]any, error) {
	wrapped := g.WrapNode(name, func(ctx context.Context, state flow.State) (flow.State, error) {
		return fn(ctx, state)
	}, opts...)
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return wrapped(ctx, input)
	}
}

func (g *Gate) countDecision(ctx context.Context, decision string) {
	if g.decisions == nil {
		return
	}
	g.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

func (g *Gate) observeLatency(ctx context.Context, elapsed time.Duration) {
	if g.latency == nil {
		return
	}
	g.latency.Record(ctx, elapsed.Seconds())
}

func stateKeys(state map[string]any) []string {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
