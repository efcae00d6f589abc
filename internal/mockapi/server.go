// Package mockapi serves the APort policy verification wire contract from a
// local process. Decisions come from the same deterministic heuristic as the
// in-process mock verifier, so the production HTTP client can be exercised
// end to end without credentials for the hosted service.
package mockapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aporthq/aport-go/internal/decisionlog"
	"github.com/aporthq/aport-go/pkg/aport"
)

// Server is the local verification API. It answers the decision endpoint
// with mock decisions, records every served decision in a decision log, and
// exposes health and Prometheus metrics endpoints.
type Server struct {
	addr      string
	latency   time.Duration
	keyHashes []string
	store     decisionlog.Store
	logger    *slog.Logger
	now       func() time.Time

	registry *prometheus.Registry
	metrics  *Metrics
	server   *http.Server
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8090" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLatency sets a simulated decision delay applied before every
// verification response. Zero (the default) disables the delay.
func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.latency = d
	}
}

// WithAPIKeyHashes enables bearer-token authentication on the verification
// endpoint. Requests must present a key matching one of the hashes (Argon2id
// PHC format or SHA-256). An empty list leaves the endpoint open.
func WithAPIKeyHashes(hashes []string) Option {
	return func(s *Server) {
		s.keyHashes = hashes
	}
}

// WithStore sets the decision log. Defaults to an in-memory ring buffer.
func WithStore(store decisionlog.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithLogger sets the structured logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source for decision timestamps. Useful in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a local verification API server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		addr:   "127.0.0.1:8090",
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = decisionlog.NewMemory()
	}

	// Each server owns its registry so multiple instances can coexist in
	// one process.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.registry = reg
	s.metrics = NewMetrics(reg)

	return s
}

// Routes returns the HTTP handler serving all endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestMetrics)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	r.Route("/api/verify", func(r chi.Router) {
		if len(s.keyHashes) > 0 {
			r.Use(s.requireBearer)
		}
		r.Post("/policy/{policy_id}", s.handleVerifyPolicy)
	})

	return r
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Routes(),
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting mock verification API",
			"addr", s.addr,
			"auth_enabled", len(s.keyHashes) > 0,
			"latency", s.latency.String(),
		)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down mock verification API")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("mock verification API shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}

// verifyRequest is the wire body of the verification endpoint; the policy id
// travels in the path.
type verifyRequest struct {
	AgentID        string         `json:"agent_id"`
	Context        map[string]any `json:"context"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// handleVerifyPolicy serves POST /api/verify/policy/{policy_id}.
func (s *Server) handleVerifyPolicy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	policyID := chi.URLParam(r, "policy_id")

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body",
			"body must be a JSON object with an agent_id field")
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		s.respondError(w, http.StatusBadRequest, "Agent ID required",
			"agent_id must not be empty")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	if s.latency > 0 {
		select {
		case <-r.Context().Done():
			// Client gone, nothing left to answer.
			return
		case <-time.After(s.latency):
		}
	}

	result := aport.MockDecision(req.AgentID, policyID, s.now())

	label := "deny"
	if result.Decision.Allow {
		label = "allow"
	}
	s.metrics.DecisionsTotal.WithLabelValues(label).Inc()

	s.appendDecision(r.Context(), req, policyID, result, time.Since(start))

	s.logger.Info("decision served",
		"agent_id", req.AgentID,
		"policy_id", policyID,
		"decision_id", result.Decision.DecisionID,
		"allow", result.Decision.Allow,
	)
	s.respondJSON(w, http.StatusOK, result)
}

// appendDecision records the served decision. Append failures are counted
// and logged, never surfaced to the caller.
func (s *Server) appendDecision(ctx context.Context, req verifyRequest, policyID string, result *aport.VerifyResult, elapsed time.Duration) {
	operation, _ := req.Context["operation"].(string)

	rec := decisionlog.Record{
		ID:             uuid.NewString(),
		Time:           s.now().UTC(),
		AgentID:        req.AgentID,
		PolicyID:       policyID,
		Operation:      operation,
		Allow:          result.Decision.Allow,
		DecisionID:     result.Decision.DecisionID,
		Reasons:        result.Decision.Reasons,
		IdempotencyKey: req.IdempotencyKey,
		LatencyMS:      elapsed.Milliseconds(),
	}
	if err := s.store.Append(ctx, rec); err != nil {
		s.metrics.LogWriteErrors.Inc()
		s.logger.Warn("failed to append decision to log",
			"decision_id", rec.DecisionID,
			"error", err,
		)
	}
}

// handleHealth serves GET /health, probing the decision log.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	healthy := true

	if _, err := s.store.Recent(r.Context(), 1); err != nil {
		checks["decision_log"] = fmt.Sprintf("failed: %v", err)
		healthy = false
	} else {
		checks["decision_log"] = "ok"
	}
	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	s.respondJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// requireBearer rejects requests whose Authorization header does not carry a
// key matching one of the configured hashes.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey, ok := bearerToken(r)
		if !ok {
			s.metrics.AuthFailures.Inc()
			s.respondError(w, http.StatusUnauthorized, "Unauthorized",
				"provide an API key as 'Authorization: Bearer <key>'")
			return
		}

		for _, hash := range s.keyHashes {
			match, err := verifyKey(rawKey, hash)
			if err != nil {
				s.logger.Warn("skipping unusable api key hash", "error", err)
				continue
			}
			if match {
				next.ServeHTTP(w, r)
				return
			}
		}

		s.metrics.AuthFailures.Inc()
		s.respondError(w, http.StatusUnauthorized, "Unauthorized", "API key not recognized")
	})
}

// bearerToken extracts the bearer credential from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

// requestMetrics records request counts and durations. The observability
// endpoints themselves are skipped.
func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		s.metrics.RequestsTotal.WithLabelValues(r.Method, statusToLabel(wrapped.status)).Inc()
	})
}

// requestLog logs one line per handled request.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusToLabel converts an HTTP status code to a metric label value.
func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}

// respondJSON writes a JSON response with the given status code and data.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with an error and message field.
func (s *Server) respondError(w http.ResponseWriter, status int, errText, message string) {
	s.respondJSON(w, status, map[string]string{"error": errText, "message": message})
}
