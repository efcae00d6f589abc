package decisionlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aporthq/aport-go/pkg/aport"
)

// RecordingVerifier decorates a verifier and appends every decision it
// observes to a Store. Verifier failures are passed through unrecorded; a
// failed append never fails the verification.
type RecordingVerifier struct {
	next   aport.Verifier
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecordingVerifier wraps next so its decisions land in store.
func NewRecordingVerifier(next aport.Verifier, store Store, logger *slog.Logger) *RecordingVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingVerifier{
		next:   next,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Verify delegates to the wrapped verifier and records the decision.
func (v *RecordingVerifier) Verify(ctx context.Context, req aport.VerifyRequest) (*aport.VerifyResult, error) {
	start := v.now()
	result, err := v.next.Verify(ctx, req)
	if err != nil {
		return nil, err
	}

	rec := Record{
		ID:             uuid.NewString(),
		Time:           v.now().UTC(),
		AgentID:        req.AgentID,
		PolicyID:       req.PolicyID,
		Operation:      operationFrom(req.Context),
		Allow:          result.Decision.Allow,
		DecisionID:     result.Decision.DecisionID,
		Reasons:        result.Decision.Reasons,
		IdempotencyKey: req.IdempotencyKey,
		LatencyMS:      v.now().Sub(start).Milliseconds(),
	}
	if err := v.store.Append(ctx, rec); err != nil {
		v.logger.Warn("failed to record decision",
			"agent_id", req.AgentID,
			"policy_id", req.PolicyID,
			"error", err)
	}
	return result, nil
}

func operationFrom(vctx map[string]any) string {
	op, _ := vctx["operation"].(string)
	return op
}

// Compile-time interface verification.
var _ aport.Verifier = (*RecordingVerifier)(nil)
