package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/triton/pkg/trace"
)

// Executor error codes, surfaced in results and trace steps.
const (
	CodePolicyDenied     = "policy_denied"
	CodeApprovalRequired = "approval_required"
	CodeToolNotFound     = "tool_not_found"
	CodeSandboxMissing   = "sandbox_unavailable"
	CodeSandboxExec      = "sandbox_execution_error"
	CodeHandlerError     = "handler_error"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the outcome of one tool execution.
type Result struct {
	Status      string `json:"status"`
	Value       any    `json:"value,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Truncated   bool   `json:"truncated"`
	SandboxUsed bool   `json:"sandbox_used"`
	LatencyMS   int64  `json:"latency_ms"`
}

// StepRecorder is the slice of the trace ledger the executor writes to.
type StepRecorder interface {
	AppendStep(ctx context.Context, traceID, stepType string, payload map[string]any) (trace.Step, error)
}

// ExecutorConfig configures the tool executor.
type ExecutorConfig struct {
	// SandboxRequired forces unsafe tools through the sandbox.
	SandboxRequired bool

	// AllowFallback lets unsafe tools run in-process when the sandbox is
	// unavailable. Off by default; enabling it trades isolation for
	// availability.
	AllowFallback bool

	// MaxOutputChars caps tool output length. Default: 4000
	MaxOutputChars int
}

// Executor runs registered tools with schema enforcement, sandbox dispatch,
// and output hygiene. Every execution leaves a tool_execute trace step.
type Executor struct {
	registry *Registry
	sandbox  SandboxRunner
	recorder StepRecorder
	config   ExecutorConfig
	logger   *slog.Logger
}

// NewExecutor creates an executor. recorder may be nil in tests that do not
// assert on trace output.
func NewExecutor(registry *Registry, sandbox SandboxRunner, recorder StepRecorder, config ExecutorConfig) *Executor {
	if config.MaxOutputChars <= 0 {
		config.MaxOutputChars = 4000
	}
	return &Executor{
		registry: registry,
		sandbox:  sandbox,
		recorder: recorder,
		config:   config,
		logger:   slog.Default().With("component", "tools.executor"),
	}
}

// Execute runs the named tool. traceID may be empty for untraced calls.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any, traceID string) Result {
	start := time.Now()
	if args == nil {
		args = map[string]any{}
	}

	spec, ok := e.registry.Lookup(name)
	if !ok {
		return e.finish(ctx, traceID, name, args, start, Result{
			Status:    StatusError,
			Error:     fmt.Sprintf("unknown tool %q", name),
			ErrorCode: CodeToolNotFound,
		})
	}

	if err := validateArgs(spec, args); err != nil {
		return e.finish(ctx, traceID, name, args, start, Result{
			Status:    StatusError,
			Error:     err.Error(),
			ErrorCode: CodeHandlerError,
		})
	}

	var result Result
	switch {
	case !spec.Safe && spec.RequiresSandbox && e.config.SandboxRequired:
		if e.sandbox == nil || !e.sandbox.Available() {
			if !e.config.AllowFallback {
				return e.finish(ctx, traceID, name, args, start, Result{
					Status:    StatusError,
					Error:     "sandbox required but unavailable",
					ErrorCode: CodeSandboxMissing,
				})
			}
			e.logger.WarnContext(ctx, "sandbox unavailable, falling back in-process", "tool", name)
			result = e.runInProcess(ctx, spec, args)
		} else {
			result = e.runSandboxed(ctx, spec, args)
		}
	default:
		result = e.runInProcess(ctx, spec, args)
	}

	return e.finish(ctx, traceID, name, args, start, result)
}

func (e *Executor) runInProcess(ctx context.Context, spec ToolSpec, args map[string]any) Result {
	if spec.Handler == nil {
		return Result{
			Status:    StatusError,
			Error:     fmt.Sprintf("tool %q has no in-process handler", spec.Name),
			ErrorCode: CodeSandboxMissing,
		}
	}
	value, err := spec.Handler(ctx, args)
	if err != nil {
		return Result{Status: StatusError, Error: err.Error(), ErrorCode: CodeHandlerError}
	}
	return Result{Status: StatusOK, Value: value}
}

func (e *Executor) runSandboxed(ctx context.Context, spec ToolSpec, args map[string]any) Result {
	sres, err := e.sandbox.Run(ctx, spec.SandboxCommand, args)
	if err != nil {
		return Result{Status: StatusError, Error: err.Error(), ErrorCode: CodeSandboxMissing}
	}
	if sres.Status != "ok" {
		detail := sres.Stderr
		if detail == "" {
			detail = fmt.Sprintf("exit code %d", sres.ExitCode)
		}
		return Result{Status: StatusError, Error: detail, ErrorCode: CodeSandboxExec, SandboxUsed: true}
	}
	return Result{Status: StatusOK, Value: sres.Stdout, SandboxUsed: true}
}

// finish applies output hygiene, records the trace step, and stamps latency.
func (e *Executor) finish(ctx context.Context, traceID, name string, args map[string]any, start time.Time, result Result) Result {
	result.LatencyMS = time.Since(start).Milliseconds()

	if s, ok := result.Value.(string); ok {
		scrubbed, _ := trace.ScrubString(s)
		if len(scrubbed) > e.config.MaxOutputChars {
			scrubbed = scrubbed[:e.config.MaxOutputChars]
			result.Truncated = true
		}
		result.Value = scrubbed
	}
	if result.Error != "" {
		result.Error, _ = trace.ScrubString(result.Error)
	}

	if e.recorder != nil && traceID != "" {
		payload := map[string]any{
			"tool":         name,
			"args":         args,
			"status":       result.Status,
			"truncated":    result.Truncated,
			"sandbox_used": result.SandboxUsed,
			"latency_ms":   result.LatencyMS,
		}
		if result.ErrorCode != "" {
			payload["error_code"] = result.ErrorCode
		}
		if _, err := e.recorder.AppendStep(ctx, traceID, trace.StepToolExecute, payload); err != nil {
			e.logger.ErrorContext(ctx, "failed to record tool_execute step",
				"tool", name,
				"trace_id", traceID,
				"error", err,
			)
		}
	}
	return result
}
