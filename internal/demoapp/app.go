// Package demoapp is the demo web application. It exercises the verification
// middleware against a small payments-flavored API: public routes, strict
// policy-gated routes, and one graceful route that reports the verification
// outcome instead of rejecting.
package demoapp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aporthq/aport-go/pkg/aporthttp"
	"github.com/aporthq/aport-go/pkg/guard"
)

// App is the demo web application server.
type App struct {
	addr            string
	gate            *guard.Gate
	logger          *slog.Logger
	shutdownTimeout time.Duration
	version         string
	now             func() time.Time

	server *http.Server
}

// Option is a functional option for configuring an App.
type Option func(*App)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8088" (localhost only).
func WithAddr(addr string) Option {
	return func(a *App) {
		a.addr = addr
	}
}

// WithLogger sets the structured logger for the application.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithShutdownTimeout bounds graceful shutdown. Default is 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// WithVersion sets the version string reported by the banner route.
func WithVersion(version string) Option {
	return func(a *App) {
		a.version = version
	}
}

// WithClock sets the time source for response timestamps. Useful in tests.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// NewApp creates the demo application around the given verification gate.
func NewApp(gate *guard.Gate, opts ...Option) *App {
	a := &App{
		addr:            "127.0.0.1:8088",
		gate:            gate,
		logger:          slog.Default(),
		shutdownTimeout: 10 * time.Second,
		version:         "dev",
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the HTTP handler with all application routes registered.
func (a *App) Routes() http.Handler {
	mw := aporthttp.NewMiddleware(a.gate, aporthttp.WithLogger(a.logger))

	r := chi.NewRouter()

	r.Get("/", a.handleIndex)
	r.Get("/public", a.handlePublic)

	r.With(mw.RequirePolicy("finance.payment.refund.v1",
		aporthttp.WithRequestContext(map[string]any{
			"endpoint": "refund",
			"action":   "process_refund",
		}),
	)).Post("/refund", a.handleRefund)

	r.With(mw.RequirePolicy("admin.access",
		aporthttp.WithRequestContext(map[string]any{
			"endpoint": "admin",
			"action":   "view_dashboard",
		}),
	)).Get("/admin", a.handleAdmin)

	// Graceful mode: the handler always runs and reports the outcome.
	r.With(mw.RequirePolicy("payments.transfer.v1",
		aporthttp.Strict(false),
		aporthttp.WithRequestContext(map[string]any{
			"endpoint": "transfer",
			"action":   "process_transfer",
		}),
	)).Post("/transfer", a.handleTransfer)

	return r
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the server fails.
func (a *App) Start(ctx context.Context) error {
	a.server = &http.Server{
		Addr:    a.addr,
		Handler: a.Routes(),
	}

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting demo application",
			"addr", a.addr,
			"strict_gate", a.gate.Strict(),
		)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down demo application")
		return a.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("error during server shutdown", "error", err)
		return err
	}

	a.logger.Info("demo application shutdown complete")
	return nil
}

// Close gracefully shuts down the application server.
func (a *App) Close() error {
	if a.server == nil {
		return nil
	}
	return a.shutdown()
}

// respondJSON writes a JSON response with the given status code and data.
func (a *App) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with an error and message field.
func (a *App) respondError(w http.ResponseWriter, status int, errText, message string) {
	a.respondJSON(w, status, map[string]string{"error": errText, "message": message})
}
