// Package decisionlog records verification decisions for audit. Stores keep
// the most recent decisions queryable; the SQLite store also survives
// restarts.
package decisionlog

import (
	"context"
	"time"

	"github.com/aporthq/aport-go/pkg/aport"
)

// Record is one verification decision as observed by this process.
type Record struct {
	// ID uniquely identifies the log entry.
	ID string `json:"id"`
	// Time is when the decision was observed.
	Time time.Time `json:"time"`
	// AgentID is the identity that was verified.
	AgentID string `json:"agent_id"`
	// PolicyID is the policy that was evaluated.
	PolicyID string `json:"policy_id"`
	// Operation is the gated operation identifier, when known.
	Operation string `json:"operation,omitempty"`
	// Allow is the decision outcome.
	Allow bool `json:"allow"`
	// DecisionID is the service-issued decision identifier.
	DecisionID string `json:"decision_id"`
	// Reasons lists denial reasons, empty on allow.
	Reasons []aport.Reason `json:"reasons,omitempty"`
	// IdempotencyKey is the request deduplication key, when one was sent.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// LatencyMS is the decision round-trip in milliseconds.
	LatencyMS int64 `json:"latency_ms"`
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	// AgentID matches records for one agent.
	AgentID string
	// PolicyID matches records for one policy.
	PolicyID string
	// Allow matches only allowed (true) or denied (false) decisions.
	Allow *bool
	// Since excludes records observed before the given time.
	Since time.Time
	// Limit caps the result size; 0 or negative applies the store default.
	Limit int
}

// Store persists decision records.
type Store interface {
	// Append stores decision records.
	Append(ctx context.Context, records ...Record) error
	// Recent returns the n most recent records, newest first.
	Recent(ctx context.Context, n int) ([]Record, error)
	// Query retrieves records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Record, error)
	// Close releases resources.
	Close() error
}
