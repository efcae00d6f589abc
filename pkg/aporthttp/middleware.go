// Package aporthttp gates HTTP routes behind APort policy verification.
//
// Middleware produces standard func(http.Handler) http.Handler wrappers, so
// it composes with net/http, chi, and any router that accepts stock
// middleware:
//
//	gate := guard.New(verifier)
//	aportmw := aporthttp.NewMiddleware(gate)
//
//	r := chi.NewRouter()
//	r.With(aportmw.RequirePolicy("finance.payment.refund.v1")).Post("/refund", refundHandler)
package aporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/aporthq/aport-go/pkg/aport"
	"github.com/aporthq/aport-go/pkg/guard"
)

// verificationContextKey is the type for the request verification context key.
type verificationContextKey struct{}

// Verification is the per-request verification result handlers can read
// from the request context.
type Verification struct {
	// Verified reports whether the decision allowed the request.
	Verified bool `json:"verified"`
	// AgentID is the resolved identity, empty when none was found.
	AgentID string `json:"agent_id,omitempty"`
	// Policy is the policy that was evaluated.
	Policy string `json:"policy,omitempty"`
	// DecisionID identifies the decision for audit.
	DecisionID string `json:"decision_id,omitempty"`
	// Passport is the agent passport returned on allow.
	Passport *aport.Passport `json:"passport,omitempty"`
	// Error carries the failure detail when a graceful route proceeded
	// without a positive decision.
	Error string `json:"error,omitempty"`
}

// FromContext returns the verification attached to the request context.
// Routes without the middleware yield ok = false.
func FromContext(ctx context.Context) (*Verification, bool) {
	v, ok := ctx.Value(verificationContextKey{}).(*Verification)
	return v, ok
}

// Middleware builds route wrappers that verify the acting agent before the
// handler runs.
type Middleware struct {
	gate   *guard.Gate
	logger *slog.Logger
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMiddleware returns a Middleware enforcing policies through the gate.
func NewMiddleware(gate *guard.Gate, opts ...Option) *Middleware {
	m := &Middleware{
		gate:   gate,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// routeConfig is the per-route view of the middleware configuration.
type routeConfig struct {
	strict    bool
	extractor RequestExtractor
	extra     map[string]any
}

// RouteOption overrides middleware defaults for a single route.
type RouteOption func(*routeConfig)

// Strict controls enforcement for the route. Strict routes (the default)
// reject requests that fail verification; graceful routes attach the
// failure to the request context and let the handler decide.
func Strict(strict bool) RouteOption {
	return func(c *routeConfig) {
		c.strict = strict
	}
}

// WithRequestExtractor resolves identity with a custom extractor for this
// route instead of AgentIDFromRequest.
func WithRequestExtractor(extractor RequestExtractor) RouteOption {
	return func(c *routeConfig) {
		c.extractor = extractor
	}
}

// WithRequestContext merges the given entries into the verification context
// of every request on this route.
func WithRequestContext(extra map[string]any) RouteOption {
	return func(c *routeConfig) {
		c.extra = extra
	}
}

// RequirePolicy verifies every request on the route against the given
// policy. The operation identifier is derived from the method and path.
//
// Strict routes respond 400 when no identity is present, 403 when the
// decision denies, and 500 when no decision could be obtained; the handler
// never runs. Graceful routes always run the handler and expose the result
// through FromContext.
func (m *Middleware) RequirePolicy(policyID string, opts ...RouteOption) func(http.Handler) http.Handler {
	cfg := routeConfig{
		strict:    true,
		extractor: AgentIDFromRequest,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operation := r.Method + " " + r.URL.Path

			agentID, ok := cfg.extractor(r)
			if !ok {
				if cfg.strict {
					m.logger.Warn("request carries no agent identity",
						"operation", operation)
					m.respondError(w, http.StatusBadRequest, "Agent ID required",
						"provide X-Agent-ID header, agent_id query parameter, or agent_id in the JSON body")
					return
				}
				next.ServeHTTP(w, m.withVerification(r, &Verification{
					Verified: false,
					Error:    "agent identity missing",
				}))
				return
			}

			meta := map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"user_agent": r.UserAgent(),
				"client_ip":  clientIP(r),
			}
			callOpts := []guard.CallOption{guard.WithPolicy(policyID)}
			if cfg.extra != nil {
				callOpts = append(callOpts, guard.WithExtraContext(cfg.extra))
			}

			outcome, err := m.gate.Check(r.Context(), operation, agentID, meta, callOpts...)
			if err != nil {
				m.handleCheckError(w, r, next, cfg, policyID, agentID, err)
				return
			}

			next.ServeHTTP(w, m.withVerification(r, &Verification{
				Verified:   true,
				AgentID:    agentID,
				Policy:     policyID,
				DecisionID: outcome.DecisionID,
				Passport:   outcome.Passport,
			}))
		})
	}
}

// handleCheckError maps a gate error onto the route's enforcement mode.
func (m *Middleware) handleCheckError(w http.ResponseWriter, r *http.Request, next http.Handler, cfg routeConfig, policyID, agentID string, err error) {
	var denied *guard.DeniedError
	if errors.As(err, &denied) {
		if cfg.strict {
			m.respondJSON(w, http.StatusForbidden, map[string]any{
				"error":   "Verification failed",
				"message": denied.Error(),
				"details": map[string]any{
					"agent_id":    denied.AgentID,
					"policy":      denied.PolicyID,
					"decision_id": denied.DecisionID,
					"reasons":     denied.Reasons,
				},
			})
			return
		}
		next.ServeHTTP(w, m.withVerification(r, &Verification{
			Verified:   false,
			AgentID:    agentID,
			Policy:     policyID,
			DecisionID: denied.DecisionID,
			Error:      denied.Error(),
		}))
		return
	}

	if cfg.strict {
		m.respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Verification error",
			"message": err.Error(),
		})
		return
	}
	next.ServeHTTP(w, m.withVerification(r, &Verification{
		Verified: false,
		AgentID:  agentID,
		Policy:   policyID,
		Error:    err.Error(),
	}))
}

func (m *Middleware) withVerification(r *http.Request, v *Verification) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), verificationContextKey{}, v))
}

// respondJSON writes a JSON response with the given status code and data.
func (m *Middleware) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		m.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with an error and message field.
func (m *Middleware) respondError(w http.ResponseWriter, status int, errText, message string) {
	m.respondJSON(w, status, map[string]string{"error": errText, "message": message})
}

// clientIP extracts the client address, trusting the first X-Forwarded-For
// entry and X-Real-IP before falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
