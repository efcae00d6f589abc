package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/aporthq/aport-go/internal/config"
	"github.com/aporthq/aport-go/internal/decisionlog"
	"github.com/aporthq/aport-go/internal/demoapp"
	"github.com/aporthq/aport-go/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the demo web application",
	Long: `Start the demo web application with verification middleware.

Routes:
  GET  /          endpoint listing
  GET  /public    no verification
  POST /refund    policy finance.payment.refund.v1 (strict)
  GET  /admin     policy admin.access (strict)
  POST /transfer  policy payments.transfer.v1 (graceful)

Agent identity comes from the X-Agent-ID header, the agent_id query
parameter, or an agent_id field in the JSON body.

Examples:
  # Against the built-in mock, no credentials needed
  aport-demo serve --dev

  # Against the hosted service
  APORT_API_KEY=... aport-demo serve --addr 127.0.0.1:8088`,
	RunE: runServe,
}

var (
	serveAddr string
	serveDev  bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config: 127.0.0.1:8088)")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "development mode (mock verifier, debug logging)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveDev {
		cfg.DevMode = true
	}
	if serveAddr != "" {
		cfg.Server.HTTPAddr = serveAddr
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, observability.Options{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup failed: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		return err
	}

	// With a persistent decision log configured, record every decision this
	// app observes.
	if cfg.DecisionLog.Backend == "sqlite" {
		store, err := decisionlog.OpenSQLite(ctx, cfg.DecisionLog.Path)
		if err != nil {
			return fmt.Errorf("failed to open decision log: %w", err)
		}
		defer func() { _ = store.Close() }()
		verifier = decisionlog.NewRecordingVerifier(verifier, store, logger)
		logger.Info("decision log enabled", "backend", "sqlite", "path", cfg.DecisionLog.Path)
	}

	gate := newGate(cfg, verifier, logger)

	app := demoapp.NewApp(gate,
		demoapp.WithAddr(cfg.Server.HTTPAddr),
		demoapp.WithLogger(logger),
		demoapp.WithShutdownTimeout(cfg.ShutdownTimeout()),
		demoapp.WithVersion(Version),
	)

	logger.Info("demo application starting",
		"version", Version,
		"addr", cfg.Server.HTTPAddr,
		"dev_mode", cfg.DevMode,
		"default_policy", cfg.Gate.DefaultPolicy,
	)
	return app.Start(ctx)
}
