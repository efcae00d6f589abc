// Package cmd provides the CLI commands for aport-demo.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aporthq/aport-go/internal/config"
	"github.com/aporthq/aport-go/pkg/aport"
	"github.com/aporthq/aport-go/pkg/guard"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aport-demo",
	Short: "APort verification demos - gated workflows, web app, mock API",
	Long: `aport-demo exercises APort agent verification end to end.

It ships the verification gate in three hosts:
  - one-shot decision calls against the hosted service or the built-in mock
  - graph workflows whose nodes are gated by policies
  - a demo web application whose routes are gated by middleware

plus a local mock verification API that speaks the same wire contract as
the hosted service, for offline development.

Configuration:
  Config is loaded from aport-demo.yaml in the current directory,
  $HOME/.aport/, or /etc/aport/.

  Environment variables override config values with the APORT_ prefix.
  Example: APORT_SERVER_HTTP_ADDR=127.0.0.1:9090

Commands:
  verify      Request one policy decision for an agent
  workflow    Run the gated demo workflows
  serve       Start the demo web application
  mock-api    Start the local mock verification API
  hash-key    Generate an Argon2id hash for a mock API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aport-demo.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads the configuration and applies the CLI overrides shared by
// the verifier-backed commands, then validates the result.
func loadConfig(useMock bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if useMock {
		cfg.Client.UseMock = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from config. Logs go to stderr so
// stdout stays clean for command output.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Server.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newVerifier builds the verifier per config: the in-process mock in mock
// mode, the HTTP client otherwise.
func newVerifier(cfg *config.Config, logger *slog.Logger) (aport.Verifier, error) {
	opts := []aport.Option{
		aport.WithTimeout(cfg.ClientTimeout()),
	}
	if cfg.Client.BaseURL != "" {
		opts = append(opts, aport.WithBaseURL(cfg.Client.BaseURL))
	}
	if cfg.Client.APIKey != "" {
		opts = append(opts, aport.WithAPIKey(cfg.Client.APIKey))
	}
	return aport.NewVerifier(cfg.Client.UseMock, logger, opts...)
}

// newGate builds a verification gate with the configured defaults.
func newGate(cfg *config.Config, verifier aport.Verifier, logger *slog.Logger) *guard.Gate {
	opts := []guard.Option{
		guard.WithDefaultPolicy(cfg.Gate.DefaultPolicy),
		guard.WithStrictMode(cfg.Strict()),
		guard.WithLogger(logger),
	}
	if cfg.Gate.IdempotencyKeys {
		opts = append(opts, guard.WithIdempotencyKeys())
	}
	return guard.New(verifier, opts...)
}
