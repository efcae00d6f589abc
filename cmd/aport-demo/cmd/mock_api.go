package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/aporthq/aport-go/internal/config"
	"github.com/aporthq/aport-go/internal/decisionlog"
	"github.com/aporthq/aport-go/internal/mockapi"
)

var mockAPICmd = &cobra.Command{
	Use:   "mock-api",
	Short: "Start the local mock verification API",
	Long: `Start a local HTTP server speaking the APort verification wire
contract. Decisions are deterministic: agents whose id carries a "denied"
marker are denied, everyone else is allowed.

Point any APort client at it:
  APORT_BASE_URL=http://127.0.0.1:8090 APORT_API_KEY=anything aport-demo verify ...

Endpoints:
  POST /api/verify/policy/{policy_id}
  GET  /health
  GET  /metrics

Bearer auth is enforced when mock_api.api_key_hashes is configured
(generate hashes with: aport-demo hash-key <key>). Served decisions are
recorded to the decision log.

Examples:
  aport-demo mock-api
  aport-demo mock-api --addr 127.0.0.1:9090 --db decisions.db`,
	RunE: runMockAPI,
}

var (
	mockAPIAddr string
	mockAPIDB   string
)

func init() {
	mockAPICmd.Flags().StringVar(&mockAPIAddr, "addr", "", "listen address (default from config: 127.0.0.1:8090)")
	mockAPICmd.Flags().StringVar(&mockAPIDB, "db", "", "SQLite file for the decision log (default: in-memory ring)")
	rootCmd.AddCommand(mockAPICmd)
}

func runMockAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if mockAPIAddr != "" {
		cfg.MockAPI.HTTPAddr = mockAPIAddr
	}
	if mockAPIDB != "" {
		cfg.DecisionLog.Backend = "sqlite"
		cfg.DecisionLog.Path = mockAPIDB
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	store, err := newDecisionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	opts := []mockapi.Option{
		mockapi.WithAddr(cfg.MockAPI.HTTPAddr),
		mockapi.WithLatency(cfg.MockLatency()),
		mockapi.WithStore(store),
		mockapi.WithLogger(logger),
	}
	if cfg.MockAPI.RequireAuth {
		opts = append(opts, mockapi.WithAPIKeyHashes(cfg.MockAPI.APIKeyHashes))
	}

	server := mockapi.NewServer(opts...)
	logger.Info("mock verification API starting",
		"addr", cfg.MockAPI.HTTPAddr,
		"latency", cfg.MockLatency(),
		"auth", cfg.MockAPI.RequireAuth,
	)
	return server.Start(ctx)
}

// newDecisionStore builds the decision log store the configuration asks for.
func newDecisionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (decisionlog.Store, error) {
	if cfg.DecisionLog.Backend == "sqlite" {
		store, err := decisionlog.OpenSQLite(ctx, cfg.DecisionLog.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open decision log: %w", err)
		}
		logger.Info("decision log: sqlite", "path", cfg.DecisionLog.Path)
		return store, nil
	}
	logger.Info("decision log: memory", "capacity", cfg.DecisionLog.Capacity)
	return decisionlog.NewMemory(cfg.DecisionLog.Capacity), nil
}
