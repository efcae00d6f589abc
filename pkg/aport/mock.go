package aport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultMockLatency = 100 * time.Millisecond

// Mock is the deterministic in-memory Verifier used for development, demos
// and tests. It never touches the network: the decision derives entirely
// from the agent id, via the same heuristic the hosted sandbox uses.
// Agents whose lowercased id contains "denied" or ends with "_denied" are
// denied, everyone else is allowed.
type Mock struct {
	latency time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

var _ Verifier = (*Mock)(nil)

// MockOption is a functional option for configuring a Mock.
type MockOption func(*Mock)

// MockLatency sets the simulated network delay per call. It defaults to
// 100ms to exercise asynchronous call sites; it is not a timeout and must
// not be read as a retry boundary. Zero disables the delay.
func MockLatency(d time.Duration) MockOption {
	return func(m *Mock) {
		m.latency = d
	}
}

// MockClock sets the time source for decision timestamps. Useful in tests.
func MockClock(now func() time.Time) MockOption {
	return func(m *Mock) {
		m.now = now
	}
}

// MockLogger sets the structured logger used by the mock.
func MockLogger(logger *slog.Logger) MockOption {
	return func(m *Mock) {
		m.logger = logger
	}
}

// NewMock creates a deterministic mock verifier.
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		latency: defaultMockLatency,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Verify implements Verifier. It honors context cancellation during the
// simulated delay and otherwise always produces a decision.
func (m *Mock) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.latency):
		}
	}

	result := MockDecision(req.AgentID, req.PolicyID, m.now())
	m.logger.Debug("mock verification decision",
		"agent_id", req.AgentID,
		"policy_id", req.PolicyID,
		"decision_id", result.Decision.DecisionID,
		"allow", result.Decision.Allow,
	)
	return result, nil
}

// MockDecision computes the deterministic decision document for an agent and
// policy. It is shared with the local verification API server so that the
// in-process mock and the HTTP path produce byte-equivalent decisions.
//
// The decision id derives from a stable hash of agent id + policy id, so
// repeated calls for the same pair yield the same id.
func MockDecision(agentID, policyID string, now time.Time) *VerifyResult {
	lower := strings.ToLower(agentID)
	allow := !strings.Contains(lower, "denied") && !strings.HasSuffix(lower, "_denied")

	decisionID := fmt.Sprintf("dec_mock_%04d", xxhash.Sum64String(agentID+policyID)%10000)

	result := &VerifyResult{
		Decision: Decision{
			DecisionID:     decisionID,
			Allow:          allow,
			Reasons:        []Reason{},
			ExpiresIn:      60,
			CreatedAt:      now.UTC(),
			AssuranceLevel: AssuranceNone,
		},
		Verified: allow,
	}

	if allow {
		result.Decision.AssuranceLevel = AssuranceHigh
		result.Passport = &Passport{
			AgentID:      agentID,
			Capabilities: []string{"read", "write"},
			Limits: map[string]any{
				"requests": 1000,
				"period":   "1h",
			},
		}
	} else {
		result.Decision.Reasons = []Reason{{
			Code:     "MOCK_DENIAL",
			Message:  fmt.Sprintf("mock denial for agent %s", agentID),
			Severity: "error",
		}}
	}

	return result
}
