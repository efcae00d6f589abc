// Package config provides configuration loading for aport-demo.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for aport-demo.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("aport-demo")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: APORT_SERVER_HTTP_ADDR etc.
	viper.SetEnvPrefix("APORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an aport-demo config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".aport"),
		"/etc/aport",
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for aport-demo.yaml
// or .yml. Returns the full path of the first match, or empty string.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "aport-demo"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds config keys for environment variable support.
// The client keys are additionally bound to the bare APORT_* names the
// verification client reads on its own, so both spellings work:
// APORT_API_KEY and APORT_CLIENT_API_KEY.
func bindNestedEnvKeys() {
	// Client config.
	_ = viper.BindEnv("client.base_url", "APORT_CLIENT_BASE_URL", "APORT_BASE_URL")
	_ = viper.BindEnv("client.api_key", "APORT_CLIENT_API_KEY", "APORT_API_KEY")
	_ = viper.BindEnv("client.timeout", "APORT_CLIENT_TIMEOUT", "APORT_TIMEOUT")
	_ = viper.BindEnv("client.use_mock", "APORT_CLIENT_USE_MOCK", "APORT_USE_MOCK")

	// Gate config.
	_ = viper.BindEnv("gate.default_policy")
	_ = viper.BindEnv("gate.mode")
	_ = viper.BindEnv("gate.idempotency_keys")

	// Server config.
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.log_format")
	_ = viper.BindEnv("server.shutdown_timeout")

	// Mock API config.
	_ = viper.BindEnv("mock_api.http_addr")
	_ = viper.BindEnv("mock_api.latency")
	_ = viper.BindEnv("mock_api.require_auth")
	// Note: mock_api.api_key_hashes is an array; use the config file.

	// Decision log config.
	_ = viper.BindEnv("decision_log.backend")
	_ = viper.BindEnv("decision_log.path")
	_ = viper.BindEnv("decision_log.capacity")

	// Telemetry config.
	_ = viper.BindEnv("telemetry.enabled")

	// Dev mode.
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	// In dev mode, apply permissive defaults before validation.
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate. Use this when CLI flags may override
// DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
