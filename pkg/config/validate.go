package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks the configuration for invalid or inconsistent values.
// It returns the first error encountered.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validateProvider(&cfg.Provider); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := validateIntent(&cfg.Intent); err != nil {
		return fmt.Errorf("intent: %w", err)
	}
	if err := validateSandbox(&cfg.Sandbox); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	if cfg.Approvals.TTL <= 0 {
		return fmt.Errorf("approvals: ttl must be positive, got %s", cfg.Approvals.TTL)
	}
	if cfg.Trace.MaxValueChars < 16 {
		return fmt.Errorf("trace: max_value_chars must be at least 16, got %d", cfg.Trace.MaxValueChars)
	}
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry: unknown log_level %q", cfg.Telemetry.LogLevel)
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("telemetry: unknown log_format %q", cfg.Telemetry.LogFormat)
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen_address %q: %w", cfg.ListenAddress, err)
	}
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", cfg.MaxBodyBytes)
	}
	if cfg.AuthEnabled && strings.TrimSpace(cfg.AuthToken) == "" {
		return fmt.Errorf("auth_enabled requires a non-empty auth_token")
	}
	if cfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute cannot be negative, got %d", cfg.RateLimitPerMinute)
	}
	return nil
}

func validateProvider(cfg *ProviderConfig) error {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", cfg.BaseURL)
	}
	if cfg.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative, got %d", cfg.RetryCount)
	}
	if cfg.CircuitMaxFailures < 1 {
		return fmt.Errorf("circuit_max_failures must be at least 1, got %d", cfg.CircuitMaxFailures)
	}
	if cfg.MaxOutputChars < 0 {
		return fmt.Errorf("max_output_chars cannot be negative, got %d", cfg.MaxOutputChars)
	}
	return nil
}

func validateIntent(cfg *IntentConfig) error {
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %g", cfg.MinConfidence)
	}
	if cfg.MinGap < 0 || cfg.MinGap > 1 {
		return fmt.Errorf("min_gap must be in [0,1], got %g", cfg.MinGap)
	}
	return nil
}

func validateSandbox(cfg *SandboxConfig) error {
	if cfg.MemoryMB < 16 {
		return fmt.Errorf("memory_mb must be at least 16, got %d", cfg.MemoryMB)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	return nil
}
