package config

import "time"

// ApplyDefaults fills in default values for any unset configuration fields.
// It is called after YAML parsing and before validation.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1:8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = 60
	}

	// Provider defaults
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "http://127.0.0.1:11434"
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "qwen2.5:3b"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}
	if cfg.Provider.HealthTimeout == 0 {
		cfg.Provider.HealthTimeout = 5 * time.Second
	}
	if cfg.Provider.RetryBackoff == 0 {
		cfg.Provider.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Provider.MaxOutputChars == 0 {
		cfg.Provider.MaxOutputChars = 4000
	}
	if cfg.Provider.CircuitMaxFailures == 0 {
		cfg.Provider.CircuitMaxFailures = 3
	}
	if cfg.Provider.CircuitReset == 0 {
		cfg.Provider.CircuitReset = 30 * time.Second
	}

	// Policy defaults
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = "config/tool_policy.yaml"
	}

	// Sandbox defaults
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "python:3.12-slim"
	}
	if cfg.Sandbox.CPU == "" {
		cfg.Sandbox.CPU = "0.5"
	}
	if cfg.Sandbox.MemoryMB == 0 {
		cfg.Sandbox.MemoryMB = 256
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 10 * time.Second
	}
	if cfg.Sandbox.ToolDir == "" {
		cfg.Sandbox.ToolDir = "sandbox_tools"
	}

	// Intent defaults
	if cfg.Intent.CachePath == "" {
		cfg.Intent.CachePath = "instance/intent_cache.db"
	}
	if cfg.Intent.CacheTTL == 0 {
		cfg.Intent.CacheTTL = 10 * time.Minute
	}
	if cfg.Intent.HITLPath == "" {
		cfg.Intent.HITLPath = "instance/hitl_queue.db"
	}
	if cfg.Intent.MinConfidence == 0 {
		cfg.Intent.MinConfidence = 0.85
	}
	if cfg.Intent.MinGap == 0 {
		cfg.Intent.MinGap = 0.05
	}
	if cfg.Intent.EmbedModel == "" {
		cfg.Intent.EmbedModel = "nomic-embed-text:latest"
	}
	if cfg.Intent.EmbedURL == "" {
		cfg.Intent.EmbedURL = "http://127.0.0.1:11434"
	}
	if cfg.Intent.EmbedTimeout == 0 {
		cfg.Intent.EmbedTimeout = 10 * time.Second
	}

	// Trace defaults
	if cfg.Trace.Path == "" {
		cfg.Trace.Path = "instance/trace.db"
	}
	if cfg.Trace.MaxValueChars == 0 {
		cfg.Trace.MaxValueChars = 500
	}
	if cfg.Trace.MaxEvents == 0 {
		cfg.Trace.MaxEvents = 200
	}

	// Approvals defaults
	if cfg.Approvals.TTL == 0 {
		cfg.Approvals.TTL = 15 * time.Minute
	}
	if cfg.Approvals.Path == "" {
		cfg.Approvals.Path = "instance/tool_approvals.db"
	}

	// Maintenance defaults
	if cfg.Maintenance.Schedule == "" {
		cfg.Maintenance.Schedule = "*/5 * * * *"
	}

	// Telemetry defaults
	if cfg.Telemetry.LogLevel == "" {
		cfg.Telemetry.LogLevel = "info"
	}
	if cfg.Telemetry.LogFormat == "" {
		cfg.Telemetry.LogFormat = "json"
	}
}

// NewDefault returns a configuration populated entirely with defaults.
// Boolean gates that default to true are set here because ApplyDefaults
// cannot distinguish false from unset.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Policy.Watch = true
	cfg.Sandbox.Required = true
	cfg.Intent.CacheEnabled = true
	cfg.Intent.HITLEnabled = true
	cfg.Trace.Enabled = true
	cfg.Trace.WAL = true
	cfg.Approvals.Enforce = true
	cfg.Maintenance.Enabled = true
	cfg.Telemetry.RedactLogs = true
	cfg.Telemetry.MetricsEnabled = true
	ApplyDefaults(cfg)
	return cfg
}
