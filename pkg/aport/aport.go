// Package aport provides a Go client for the APort agent-verification API.
//
// APort answers one question: is this agent allowed to perform this operation
// under a named policy? The package contains the decision wire types, a
// production HTTP client, a deterministic in-memory mock for development and
// tests, and the identity-extraction helpers shared by the gate and
// middleware integrations in this repository.
//
// Quick start:
//
//	// Set APORT_API_KEY and optionally APORT_BASE_URL, then:
//	client, err := aport.NewClient()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := client.Verify(ctx, aport.VerifyRequest{
//	    AgentID:  "agt_authorized_user",
//	    PolicyID: "data.export.v1",
//	    Context:  map[string]any{"operation": "export"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if result.Decision.Allow {
//	    fmt.Println("capabilities:", result.Passport.Capabilities)
//	}
package aport

import (
	"context"
	"time"
)

// Assurance levels reported on decisions.
const (
	// AssuranceHigh indicates the decision was backed by a verified passport.
	AssuranceHigh = "high"

	// AssuranceNone indicates no assurance could be established.
	AssuranceNone = "none"
)

// Verifier is the shared interface over the HTTP client and the mock.
// Callers must not depend on which implementation is behind it.
type Verifier interface {
	// Verify evaluates the named policy for the agent and returns the
	// decision document. A denial is data, not an error: the result carries
	// Decision.Allow=false and a nil Passport. Errors are reserved for
	// invalid arguments and for failures to obtain a decision at all.
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

// VerifyRequest describes one policy verification call.
type VerifyRequest struct {
	// AgentID is the opaque identifier of the acting agent. Required.
	AgentID string

	// PolicyID names the policy pack to evaluate (e.g. "finance.payment.refund.v1").
	// Required.
	PolicyID string

	// Context carries free-form auxiliary data for the decision.
	Context map[string]any

	// IdempotencyKey, when set, is sent both as the Idempotency-Key header
	// and as a payload field so the service can deduplicate re-submissions.
	// The client itself never retries.
	IdempotencyKey string
}

// VerifyResult is the decision document returned by the verification endpoint.
type VerifyResult struct {
	// Decision is the policy evaluation outcome.
	Decision Decision `json:"decision"`

	// Verified mirrors Decision.Allow for callers that only need the boolean.
	Verified bool `json:"verified"`

	// Passport is present exactly when the decision allows; nil on denial.
	Passport *Passport `json:"passport"`
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	// DecisionID is an opaque identifier for audit and idempotency.
	DecisionID string `json:"decision_id"`

	// Allow reports whether the operation is permitted.
	Allow bool `json:"allow"`

	// Reasons explains a denial; empty when the decision allows.
	Reasons []Reason `json:"reasons"`

	// ExpiresIn is the decision's validity window in seconds.
	ExpiresIn int `json:"expires_in"`

	// CreatedAt is the time the decision was produced.
	CreatedAt time.Time `json:"created_at"`

	// AssuranceLevel labels the strength of the verification.
	AssuranceLevel string `json:"assurance_level"`
}

// Reason is one human-readable denial reason.
type Reason struct {
	// Code is a machine-readable reason code.
	Code string `json:"code"`

	// Message is the human-readable explanation.
	Message string `json:"message"`

	// Severity grades the reason (e.g. "error", "warning").
	Severity string `json:"severity,omitempty"`
}

// Passport carries the capability data returned alongside an allow decision.
type Passport struct {
	// AgentID is the agent the passport belongs to.
	AgentID string `json:"agent_id"`

	// Capabilities lists the opaque capability names granted to the agent.
	Capabilities []string `json:"capabilities"`

	// Limits maps named usage bounds (numeric or temporal) for the agent.
	Limits map[string]any `json:"limits"`
}

// Check verifies and reduces the decision to a boolean. Unlike Verify it
// hides the decision document; it still returns an error when no decision
// could be obtained.
func Check(ctx context.Context, v Verifier, agentID, policyID string, context map[string]any) (bool, error) {
	result, err := v.Verify(ctx, VerifyRequest{
		AgentID:  agentID,
		PolicyID: policyID,
		Context:  context,
	})
	if err != nil {
		return false, err
	}
	return result.Decision.Allow, nil
}
