package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// sandboxOutputCap bounds captured stdout/stderr from a sandboxed process.
const sandboxOutputCap = 64 * 1024

// SandboxResult is the raw outcome of one sandboxed run.
type SandboxResult struct {
	Status   string `json:"status"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// SandboxRunner is the isolation contract for unsafe tools: no network,
// read-only root filesystem, capped CPU, memory, and wall-clock time.
type SandboxRunner interface {
	// Available reports whether the runner can accept work.
	Available() bool

	// Run executes command inside the sandbox with payload serialized as
	// JSON on stdin.
	Run(ctx context.Context, command []string, payload map[string]any) (SandboxResult, error)
}

// SandboxConfig configures the Docker sandbox runner.
type SandboxConfig struct {
	// Enabled gates all sandbox runs.
	Enabled bool

	// Image is the container image. Default: python:3.12-slim
	Image string

	// CPU is the CPU share passed to the runtime. Default: "0.5"
	CPU string

	// MemoryMB is the memory cap in MiB. Default: 256
	MemoryMB int

	// Timeout is the wall-clock limit per run. Default: 10 seconds
	Timeout time.Duration

	// ToolDir is the host directory mounted read-only at /tools.
	// Default: sandbox_tools
	ToolDir string
}

// DockerSandbox runs unsafe tools in a locked-down container: network
// disabled, read-only root, pid/cpu/memory caps, a small noexec tmpfs, and
// the tool scripts mounted read-only.
type DockerSandbox struct {
	config SandboxConfig
	logger *slog.Logger
}

// NewDockerSandbox creates a Docker-backed sandbox runner.
func NewDockerSandbox(config SandboxConfig) *DockerSandbox {
	if config.Image == "" {
		config.Image = "python:3.12-slim"
	}
	if config.CPU == "" {
		config.CPU = "0.5"
	}
	if config.MemoryMB <= 0 {
		config.MemoryMB = 256
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.ToolDir == "" {
		config.ToolDir = "sandbox_tools"
	}
	return &DockerSandbox{
		config: config,
		logger: slog.Default().With("component", "tools.sandbox"),
	}
}

// Available reports whether sandboxed execution is enabled.
func (d *DockerSandbox) Available() bool {
	return d.config.Enabled
}

// Run executes command in the container with payload on stdin. A run that
// outlives the timeout is killed and reported with exit code 124.
func (d *DockerSandbox) Run(ctx context.Context, command []string, payload map[string]any) (SandboxResult, error) {
	if !d.config.Enabled {
		return SandboxResult{}, fmt.Errorf("sandbox disabled")
	}
	if len(command) == 0 {
		return SandboxResult{}, fmt.Errorf("sandbox command cannot be empty")
	}

	stdin, err := json.Marshal(payload)
	if err != nil {
		return SandboxResult{}, fmt.Errorf("failed to serialize sandbox payload: %w", err)
	}

	args := []string{
		"run", "--rm",
		"--network=none",
		"--read-only",
		"--pids-limit=64",
		"--cpus", d.config.CPU,
		"--memory", fmt.Sprintf("%dm", d.config.MemoryMB),
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"--volume", d.config.ToolDir + ":/tools:ro",
		"--workdir", "/tools",
		d.config.Image,
	}
	args = append(args, command...)

	runCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "docker", args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedBuffer{buf: &stdout, limit: sandboxOutputCap}
	cmd.Stderr = &limitedBuffer{buf: &stderr, limit: sandboxOutputCap}

	start := time.Now()
	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		d.logger.WarnContext(ctx, "sandbox run timed out",
			"command", command[0],
			"timeout", d.config.Timeout,
		)
		return SandboxResult{Status: "error", Stderr: "sandbox_timeout", ExitCode: 124}, nil
	}

	result := SandboxResult{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.Status = "error"
			result.ExitCode = exitErr.ExitCode()
		} else {
			// docker itself could not be started.
			return SandboxResult{}, fmt.Errorf("failed to start sandbox: %w", runErr)
		}
	} else {
		result.Status = "ok"
	}

	d.logger.DebugContext(ctx, "sandbox run finished",
		"command", command[0],
		"exit_code", result.ExitCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// limitedBuffer discards writes past its limit so a chatty sandboxed process
// cannot balloon memory.
type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}
