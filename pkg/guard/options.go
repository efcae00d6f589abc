package guard

import (
	"log/slog"

	"github.com/aporthq/aport-go/pkg/aport"
)

// Option configures a Gate.
type Option func(*Gate)

// WithDefaultPolicy sets the policy evaluated when a call does not override
// it. Defaults to DefaultPolicy.
func WithDefaultPolicy(policyID string) Option {
	return func(g *Gate) {
		g.policy = policyID
	}
}

// WithStrictMode controls enforcement. In strict mode (the default) the gate
// rejects the operation when identity is missing, the decision denies, or no
// decision could be obtained. In graceful mode the gate annotates the state
// and lets the operation proceed.
func WithStrictMode(strict bool) Option {
	return func(g *Gate) {
		g.strict = strict
	}
}

// WithDefaultExtractor sets the identity extractor used when a call does not
// override it. Defaults to the standard key lookup.
func WithDefaultExtractor(extractor aport.Extractor) Option {
	return func(g *Gate) {
		g.extractor = extractor
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithIdempotencyKeys makes the gate attach a fresh idempotency key to every
// decision request, letting the service deduplicate retried calls.
func WithIdempotencyKeys() Option {
	return func(g *Gate) {
		g.idempotencyKeys = true
	}
}

// callConfig is the per-call view of the gate configuration.
type callConfig struct {
	policy    string
	extractor aport.Extractor
	extra     map[string]any
}

// CallOption overrides gate defaults for a single wrapped operation or check.
type CallOption func(*callConfig)

// WithPolicy evaluates the given policy instead of the gate default.
func WithPolicy(policyID string) CallOption {
	return func(c *callConfig) {
		c.policy = policyID
	}
}

// WithExtractor resolves identity with a custom extractor for this call.
func WithExtractor(extractor aport.Extractor) CallOption {
	return func(c *callConfig) {
		c.extractor = extractor
	}
}

// WithExtraContext merges the given entries into the verification context.
// Entries override the gate-collected metadata on key collision.
func WithExtraContext(extra map[string]any) CallOption {
	return func(c *callConfig) {
		c.extra = extra
	}
}

func (g *Gate) callConfig(opts []CallOption) callConfig {
	cfg := callConfig{
		policy:    g.policy,
		extractor: g.extractor,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
