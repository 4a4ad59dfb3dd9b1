// Package orchestrator glues the control plane together: it opens the trace,
// drives intent routing, enforces policy and approvals, dispatches tools or
// the provider, and closes the trace. Every stage returns an explicit result;
// the orchestrator is a straight-line consumer of those results.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mercator-hq/triton/pkg/approval"
	"mercator-hq/triton/pkg/intent"
	"mercator-hq/triton/pkg/policy"
	"mercator-hq/triton/pkg/provider"
	"mercator-hq/triton/pkg/telemetry/metrics"
	"mercator-hq/triton/pkg/tools"
	"mercator-hq/triton/pkg/trace"
)

// Result statuses.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusHITLPending = "hitl_pending"
)

// Error codes emitted by the orchestrator itself; stage-specific codes pass
// through from the stage that produced them.
const (
	CodeMalformedRequest  = "malformed_request"
	CodePolicyDenied      = "policy_denied"
	CodeApprovalRequired  = "approval_required"
	CodeToolNotFound      = "tool_not_found"
	CodeNoMatch           = "no_match"
	CodeIntentDenied      = "intent_denied"
	CodeHITLPending       = "hitl_pending"
	CodeProviderError     = "provider_error"
	CodeTraceBackend      = "trace_backend_error"
	CodeApprovalBackend   = "approval_backend_error"
	CodeCancelled         = "cancelled"
	CodeDeadlineExceeded  = "deadline_exceeded"
)

// Config configures the orchestrator.
type Config struct {
	// ApprovalsEnforced requires a valid approval before unsafe tool runs.
	// Default: true
	ApprovalsEnforced bool

	// ApprovalTTL is the lifetime of issued approvals.
	// Default: 15m
	ApprovalTTL time.Duration

	// RequestTimeout is the end-to-end deadline for one request. It should
	// cover the subordinate provider and sandbox deadlines plus slack.
	// Default: 45s
	RequestTimeout time.Duration
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.ApprovalTTL <= 0 {
		c.ApprovalTTL = approval.DefaultTTL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 45 * time.Second
	}
}

// Orchestrator drives one request end to end on the calling goroutine.
type Orchestrator struct {
	config    Config
	ledger    *trace.Ledger
	router    *intent.Router
	legacy    *intent.RuleRouter
	engine    *policy.Engine
	approvals *approval.Store
	registry  *tools.Registry
	executor  *tools.Executor
	provider  *provider.Client
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// Deps are the collaborators the orchestrator drives. Provider and metrics
// may be nil; router may be nil when intent routing is disabled entirely.
type Deps struct {
	Ledger    *trace.Ledger
	Router    *intent.Router
	Legacy    *intent.RuleRouter
	Engine    *policy.Engine
	Approvals *approval.Store
	Registry  *tools.Registry
	Executor  *tools.Executor
	Provider  *provider.Client
	Metrics   *metrics.Collector
}

// New creates an orchestrator.
func New(config Config, deps Deps) *Orchestrator {
	config.ApplyDefaults()
	return &Orchestrator{
		config:    config,
		ledger:    deps.Ledger,
		router:    deps.Router,
		legacy:    deps.Legacy,
		engine:    deps.Engine,
		approvals: deps.Approvals,
		registry:  deps.Registry,
		executor:  deps.Executor,
		provider:  deps.Provider,
		metrics:   deps.Metrics,
		logger:    slog.Default().With("component", "orchestrator"),
	}
}

// RequestError is a classified request failure. The HTTP layer maps Code to
// a status; Reason carries the stage-specific detail.
type RequestError struct {
	Code   string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (e *RequestError) Error() string {
	if e.Reason != "" {
		return e.Code + ": " + e.Reason
	}
	return e.Code
}

func requestErr(code, reason, detail string) *RequestError {
	return &RequestError{Code: code, Reason: reason, Detail: detail}
}

// classifyCtxErr maps a context error to the matching request error, or nil
// when the context is still live.
func classifyCtxErr(ctx context.Context) *RequestError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return requestErr(CodeDeadlineExceeded, "", "request deadline exceeded")
	case ctx.Err() != nil:
		return requestErr(CodeCancelled, "", "request cancelled")
	}
	return nil
}
