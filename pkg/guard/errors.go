package guard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aporthq/aport-go/pkg/aport"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrDenied is returned when the decision explicitly disallowed the
	// operation.
	ErrDenied = errors.New("verification denied")

	// ErrIdentityMissing is returned when no agent identity could be
	// resolved from the gated input.
	ErrIdentityMissing = errors.New("agent identity missing")

	// ErrRejected marks the gate's own enforcement outcome: the wrapped
	// work was never invoked.
	ErrRejected = errors.New("operation rejected by verification gate")
)

// DeniedError carries the denial detail of one decision.
type DeniedError struct {
	// AgentID is the identity that failed verification.
	AgentID string
	// Operation is the gated operation identifier.
	Operation string
	// PolicyID is the policy that was evaluated.
	PolicyID string
	// DecisionID identifies the decision for audit.
	DecisionID string
	// Reasons lists the service's denial reasons.
	Reasons []aport.Reason
}

// Error returns a human-readable description of the denial.
func (e *DeniedError) Error() string {
	msg := fmt.Sprintf("agent %s denied for operation %s by policy %s", e.AgentID, e.Operation, e.PolicyID)
	if len(e.Reasons) > 0 {
		parts := make([]string, len(e.Reasons))
		for i, r := range e.Reasons {
			parts[i] = r.Message
		}
		msg += ": " + strings.Join(parts, "; ")
	}
	return msg
}

// Unwrap returns ErrDenied so errors.Is(err, ErrDenied) works.
func (e *DeniedError) Unwrap() error {
	return ErrDenied
}

// RejectionError is the single user-facing error the gate raises in strict
// mode. It wraps either *DeniedError or ErrIdentityMissing and names the
// operation that was rejected.
type RejectionError struct {
	// Operation is the gated operation identifier.
	Operation string
	// AgentID is the resolved identity, empty when none was found.
	AgentID string
	// Err is the underlying cause.
	Err error
}

// Error returns a human-readable description of the rejection.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("operation %q rejected: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrRejected).
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}
