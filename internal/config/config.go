// Package config provides configuration types for the aport-demo toolchain.
//
// Configuration is file-based (aport-demo.yaml) with environment variable
// overrides. The same schema drives the demo workflows, the demo web app,
// and the local mock verification API.
package config

import (
	"time"
)

// Config is the top-level configuration for aport-demo.
type Config struct {
	// Client configures the APort verification client.
	Client ClientConfig `yaml:"client" mapstructure:"client"`

	// Gate configures default verification gate behavior.
	Gate GateConfig `yaml:"gate" mapstructure:"gate"`

	// Server configures the demo web application listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// MockAPI configures the local mock verification API.
	MockAPI MockAPIConfig `yaml:"mock_api" mapstructure:"mock_api"`

	// DecisionLog configures where observed decisions are recorded.
	DecisionLog DecisionLogConfig `yaml:"decision_log" mapstructure:"decision_log"`

	// Telemetry configures OpenTelemetry trace and metric export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (mock verifier, debug logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ClientConfig configures the APort verification client.
type ClientConfig struct {
	// BaseURL is the verification service root (e.g. "https://api.aport.io").
	// Defaults to the hosted service if empty.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey authenticates requests to the verification service.
	// Required unless UseMock is set.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Timeout bounds each verification request (e.g. "10s").
	// Defaults to "10s" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// UseMock replaces the HTTP client with the in-process mock verifier.
	UseMock bool `yaml:"use_mock" mapstructure:"use_mock"`
}

// GateConfig configures default verification gate behavior.
type GateConfig struct {
	// DefaultPolicy is evaluated when an operation does not name one.
	// Defaults to "workflow.transition.v1".
	DefaultPolicy string `yaml:"default_policy" mapstructure:"default_policy" validate:"omitempty,policy_id"`

	// Mode selects enforcement: "strict" rejects on failure or denial,
	// "graceful" annotates and continues. Defaults to "strict".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=strict graceful"`

	// IdempotencyKeys attaches a fresh idempotency key to every decision
	// request.
	IdempotencyKeys bool `yaml:"idempotency_keys" mapstructure:"idempotency_keys"`
}

// ServerConfig configures the demo web application.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8088"
	// (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error". Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects "text" or "json" log output. Defaults to "text".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// ShutdownTimeout bounds graceful shutdown (e.g. "10s").
	// Defaults to "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// MockAPIConfig configures the local mock verification API.
type MockAPIConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8090".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// Latency is the simulated decision latency (e.g. "100ms").
	// Defaults to "100ms".
	Latency string `yaml:"latency" mapstructure:"latency" validate:"omitempty,duration"`

	// RequireAuth rejects requests without a recognized bearer token.
	RequireAuth bool `yaml:"require_auth" mapstructure:"require_auth"`

	// APIKeyHashes lists accepted API keys as Argon2id hashes. Generate
	// with: aport-demo hash-key <key>
	APIKeyHashes []string `yaml:"api_key_hashes" mapstructure:"api_key_hashes" validate:"omitempty,dive,argon2_hash"`
}

// DecisionLogConfig configures decision persistence.
type DecisionLogConfig struct {
	// Backend selects "memory" or "sqlite". Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite"`

	// Path is the SQLite database file. Required for the sqlite backend.
	Path string `yaml:"path" mapstructure:"path"`

	// Capacity is the in-memory ring buffer size. Defaults to 1000.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"omitempty,min=1"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns stdout trace and metric export on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Client.Timeout == "" {
		c.Client.Timeout = "10s"
	}

	if c.Gate.DefaultPolicy == "" {
		c.Gate.DefaultPolicy = "workflow.transition.v1"
	}
	if c.Gate.Mode == "" {
		c.Gate.Mode = "strict"
	}

	// Server defaults bind to localhost only.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8088"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.MockAPI.HTTPAddr == "" {
		c.MockAPI.HTTPAddr = "127.0.0.1:8090"
	}
	if c.MockAPI.Latency == "" {
		c.MockAPI.Latency = "100ms"
	}

	if c.DecisionLog.Backend == "" {
		c.DecisionLog.Backend = "memory"
	}
	if c.DecisionLog.Capacity == 0 {
		c.DecisionLog.Capacity = 1000
	}
}

// SetDevDefaults applies permissive defaults for development mode. These are
// applied BEFORE validation so a bare `--dev` run works without any file.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// No credentials in dev mode: verify against the in-process mock.
	if c.Client.APIKey == "" {
		c.Client.UseMock = true
	}
	if c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}
}

// Strict reports whether the configured gate mode rejects on failure.
func (c *Config) Strict() bool {
	return c.Gate.Mode != "graceful"
}

// ClientTimeout returns the parsed client timeout. Call after SetDefaults
// and Validate; falls back to 10s on a malformed value.
func (c *Config) ClientTimeout() time.Duration {
	d, err := time.ParseDuration(c.Client.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// MockLatency returns the parsed mock decision latency.
func (c *Config) MockLatency() time.Duration {
	d, err := time.ParseDuration(c.MockAPI.Latency)
	if err != nil || d < 0 {
		return 100 * time.Millisecond
	}
	return d
}

// ShutdownTimeout returns the parsed graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
