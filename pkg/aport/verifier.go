package aport

import (
	"errors"
	"log/slog"
)

// NewVerifier is the explicit factory over the two Verifier implementations.
// The selection happens once, at construction time:
//
//   - useMock=true returns the deterministic mock.
//   - useMock=false returns the HTTP client; if the client cannot be
//     constructed for a configuration reason (no API key), the factory falls
//     back to the mock and logs that decision as a warning so the
//     substitution is never silent.
//
// Any other construction error is returned to the caller.
func NewVerifier(useMock bool, logger *slog.Logger, opts ...Option) (Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if useMock {
		logger.Warn("using mock APort verifier, decisions are simulated",
			"verifier", "mock",
		)
		return NewMock(MockLogger(logger)), nil
	}

	client, err := NewClient(append(opts, WithLogger(logger))...)
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			logger.Warn("APort client unavailable, falling back to mock verifier",
				"verifier", "mock",
				"error", err,
			)
			return NewMock(MockLogger(logger)), nil
		}
		return nil, err
	}

	logger.Info("using APort HTTP verifier",
		"verifier", "http",
		"base_url", client.baseURL,
	)
	return client, nil
}
