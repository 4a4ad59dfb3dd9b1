package config

import "time"

// Config is the root configuration structure for Triton.
// It contains all configuration sections for the HTTP server, the LLM
// provider client, the policy engine, the sandbox driver, intent routing,
// the trace ledger, tool approvals, and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, request size limits, and rate limiting.
	Server ServerConfig `yaml:"server"`

	// Provider contains configuration for the outbound LLM provider client.
	Provider ProviderConfig `yaml:"provider"`

	// Policy contains configuration for the tool policy engine.
	Policy PolicyConfig `yaml:"policy"`

	// Sandbox contains configuration for the isolated tool sandbox driver.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Intent contains configuration for the tiered intent router.
	Intent IntentConfig `yaml:"intent"`

	// Trace contains configuration for the tamper-evident trace ledger.
	Trace TraceConfig `yaml:"trace"`

	// Approvals contains configuration for the tool approval store.
	Approvals ApprovalConfig `yaml:"approvals"`

	// Maintenance contains configuration for scheduled background cleanup.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response writes.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes is the maximum accepted request body size in bytes.
	// Requests above this size are rejected before any work occurs.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// AuthEnabled enables bearer token authentication on the /v1 surface.
	// Default: false
	AuthEnabled bool `yaml:"auth_enabled"`

	// AuthToken is the expected bearer token when AuthEnabled is true.
	AuthToken string `yaml:"auth_token"`

	// RateLimitPerMinute is the per-identity request budget per minute.
	// Zero disables rate limiting.
	// Default: 60
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// ProviderConfig contains configuration for the LLM provider client.
type ProviderConfig struct {
	// NetworkEnabled gates all outbound provider calls. When false, every
	// call fails with a network_disabled error without touching the network.
	// Default: false
	NetworkEnabled bool `yaml:"network_enabled"`

	// BaseURL is the provider endpoint (Ollama-compatible /api/chat).
	// Default: "http://127.0.0.1:11434"
	BaseURL string `yaml:"base_url"`

	// Model is the default chat model.
	// Default: "qwen2.5:3b"
	Model string `yaml:"model"`

	// Timeout is the per-call wall-clock timeout.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// HealthTimeout is the timeout for health probes.
	// Default: 5s
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// RetryCount is the number of retries after the first attempt.
	// Default: 0
	RetryCount int `yaml:"retry_count"`

	// RetryBackoff is the constant sleep between attempts.
	// Default: 500ms
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// MaxOutputChars caps the provider response content length.
	// Default: 4000
	MaxOutputChars int `yaml:"max_output_chars"`

	// CircuitMaxFailures is the consecutive failure count that opens the
	// circuit breaker.
	// Default: 3
	CircuitMaxFailures int `yaml:"circuit_max_failures"`

	// CircuitReset is the open-state duration before a half-open probe.
	// Default: 30s
	CircuitReset time.Duration `yaml:"circuit_reset"`

	// ModelAllowlist restricts usable model names. Empty means any.
	ModelAllowlist []string `yaml:"model_allowlist"`
}

// PolicyConfig contains configuration for the tool policy engine.
type PolicyConfig struct {
	// Enforce enables policy enforcement. When false every check returns
	// allow with reason "policy_disabled".
	// Default: false
	Enforce bool `yaml:"enforce"`

	// Path is the policy document location (YAML).
	// Default: "config/tool_policy.yaml"
	Path string `yaml:"path"`

	// Watch enables hot reloading of the policy document.
	// Default: true
	Watch bool `yaml:"watch"`
}

// SandboxConfig contains configuration for the sandbox driver.
type SandboxConfig struct {
	// Enabled enables the sandbox driver.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Required forbids in-process execution of unsafe tools.
	// Default: true
	Required bool `yaml:"required"`

	// AllowFallback permits in-process execution of unsafe tools when the
	// sandbox is required but unavailable. Off by default.
	AllowFallback bool `yaml:"allow_fallback"`

	// Image is the container image used to run sandboxed tools.
	// Default: "python:3.12-slim"
	Image string `yaml:"image"`

	// CPU is the CPU share passed to the container runtime.
	// Default: "0.5"
	CPU string `yaml:"cpu"`

	// MemoryMB is the container memory cap in MiB.
	// Default: 256
	MemoryMB int `yaml:"memory_mb"`

	// Timeout is the wall-clock timeout for a sandboxed run.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ToolDir is the host directory mounted read-only at /tools.
	// Default: "sandbox_tools"
	ToolDir string `yaml:"tool_dir"`
}

// IntentConfig contains configuration for the intent router.
type IntentConfig struct {
	// Enabled enables the tiered intent router. When disabled the
	// orchestrator falls back to the legacy rule router.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Shadow computes intent decisions without binding them; the legacy
	// route is used and divergence is recorded for comparison.
	// Default: false
	Shadow bool `yaml:"shadow"`

	// CacheEnabled enables the tier-1 decision cache.
	// Default: true
	CacheEnabled bool `yaml:"cache_enabled"`

	// CachePath is the SQLite database path for the decision cache.
	// Default: "instance/intent_cache.db"
	CachePath string `yaml:"cache_path"`

	// CacheTTL is the lifetime of cached decisions.
	// Default: 10m
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// HITLEnabled enables the human-in-the-loop queue.
	// Default: true
	HITLEnabled bool `yaml:"hitl_enabled"`

	// HITLPath is the SQLite database path for the HITL queue.
	// Default: "instance/hitl_queue.db"
	HITLPath string `yaml:"hitl_path"`

	// MinConfidence is the tier-2 acceptance threshold for the top score.
	// Default: 0.85
	MinConfidence float64 `yaml:"min_confidence"`

	// MinGap is the tier-2 required margin between the top two scores.
	// Default: 0.05
	MinGap float64 `yaml:"min_gap"`

	// DefaultTool is routed for empty input. Empty means no_match.
	DefaultTool string `yaml:"default_tool"`

	// SemanticEnabled enables the tier-2 semantic matcher.
	// Default: false
	SemanticEnabled bool `yaml:"semantic_enabled"`

	// EmbedModel is the embedding model used by the semantic tier.
	// Default: "nomic-embed-text:latest"
	EmbedModel string `yaml:"embed_model"`

	// EmbedURL is the embedding endpoint (Ollama-compatible).
	// Default: "http://127.0.0.1:11434"
	EmbedURL string `yaml:"embed_url"`

	// EmbedTimeout is the per-embedding-call timeout.
	// Default: 10s
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
}

// TraceConfig contains configuration for the trace ledger.
type TraceConfig struct {
	// Enabled enables trace recording. When disabled, requests are served
	// without a ledger and no chain is produced.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database path for the ledger.
	// Default: "instance/trace.db"
	Path string `yaml:"path"`

	// WAL enables the write-ahead-log journal mode on the SQLite backend.
	// Default: true
	WAL bool `yaml:"wal"`

	// MaxValueChars caps redacted payload values on read.
	// Default: 500
	MaxValueChars int `yaml:"max_value_chars"`

	// MaxEvents caps the number of events returned by read endpoints.
	// Default: 200
	MaxEvents int `yaml:"max_events"`
}

// ApprovalConfig contains configuration for the tool approval store.
type ApprovalConfig struct {
	// Enforce requires a valid approval before unsafe tool execution.
	// Default: true
	Enforce bool `yaml:"enforce"`

	// TTL is the approval lifetime.
	// Default: 15m
	TTL time.Duration `yaml:"ttl"`

	// Path is the SQLite database path for approvals.
	// Default: "instance/tool_approvals.db"
	Path string `yaml:"path"`
}

// MaintenanceConfig contains configuration for background cleanup jobs.
type MaintenanceConfig struct {
	// Enabled enables the maintenance scheduler.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression for approval GC and cache pruning.
	// Default: "*/5 * * * *"
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	// LogLevel is the minimum log level ("debug", "info", "warn", "error").
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFormat is the log output format ("json" or "text").
	// Default: "json"
	LogFormat string `yaml:"log_format"`

	// RedactLogs enables secret redaction on log fields.
	// Default: true
	RedactLogs bool `yaml:"redact_logs"`

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	// Default: true
	MetricsEnabled bool `yaml:"metrics_enabled"`
}
