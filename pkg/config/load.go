package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that behavior.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TRITON_SECTION_FIELD (e.g., TRITON_SERVER_LISTEN_ADDRESS) and
// always take precedence over file-based configuration.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Only the gates an operator commonly flips at runtime are
// exposed; file configuration covers the rest.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("TRITON_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("TRITON_SERVER_AUTH_TOKEN"); val != "" {
		cfg.Server.AuthToken = val
		cfg.Server.AuthEnabled = true
	}
	if val := os.Getenv("TRITON_SERVER_MAX_BODY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = n
		}
	}
	if val := os.Getenv("TRITON_PROVIDER_NETWORK_ENABLED"); val != "" {
		cfg.Provider.NetworkEnabled = val == "1" || val == "true"
	}
	if val := os.Getenv("TRITON_PROVIDER_BASE_URL"); val != "" {
		cfg.Provider.BaseURL = val
	}
	if val := os.Getenv("TRITON_PROVIDER_MODEL"); val != "" {
		cfg.Provider.Model = val
	}
	if val := os.Getenv("TRITON_PROVIDER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Provider.Timeout = d
		}
	}
	if val := os.Getenv("TRITON_POLICY_ENFORCE"); val != "" {
		cfg.Policy.Enforce = val == "1" || val == "true"
	}
	if val := os.Getenv("TRITON_POLICY_PATH"); val != "" {
		cfg.Policy.Path = val
	}
	if val := os.Getenv("TRITON_SANDBOX_ENABLED"); val != "" {
		cfg.Sandbox.Enabled = val == "1" || val == "true"
	}
	if val := os.Getenv("TRITON_INTENT_ENABLED"); val != "" {
		cfg.Intent.Enabled = val == "1" || val == "true"
	}
	if val := os.Getenv("TRITON_INTENT_SHADOW"); val != "" {
		cfg.Intent.Shadow = val == "1" || val == "true"
	}
	if val := os.Getenv("TRITON_TRACE_PATH"); val != "" {
		cfg.Trace.Path = val
	}
	if val := os.Getenv("TRITON_APPROVALS_ENFORCE"); val != "" {
		cfg.Approvals.Enforce = val == "1" || val == "true"
	}
	if val := os.Getenv("TRITON_APPROVALS_PATH"); val != "" {
		cfg.Approvals.Path = val
	}
}
