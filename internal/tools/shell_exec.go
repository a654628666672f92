package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ShellExec runs commands with a bounded wall-clock time and output size.
type ShellExec struct {
	logger         *slog.Logger
	deniedCmds     []string
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	maxOutputBytes int
}

// ShellExecConfig configures the shell executor.
type ShellExecConfig struct {
	// DeniedCmds are case-insensitive substrings that block a command
	// before it reaches the approval gate.
	DeniedCmds     []string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int
}

// DefaultShellExecConfig returns the stock limits.
func DefaultShellExecConfig() ShellExecConfig {
	return ShellExecConfig{
		DeniedCmds: []string{
			"rm -rf /",
			"rm -rf /*",
			"> /dev/sd",
			":(){ :|:& };:",
		},
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     5 * time.Minute,
		MaxOutputBytes: 100 * 1024,
	}
}

// NewShellExec creates a shell executor. Zero limits take the defaults.
func NewShellExec(cfg ShellExecConfig, logger *slog.Logger) *ShellExec {
	def := DefaultShellExecConfig()
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.MaxTimeout == 0 {
		cfg.MaxTimeout = def.MaxTimeout
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellExec{
		logger:         logger,
		deniedCmds:     cfg.DeniedCmds,
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
}

// ExecResult contains the result of a command execution.
type ExecResult struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Combined returns stdout followed by stderr.
func (r *ExecResult) Combined() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ErrCommandDenied is returned when a command matches a denied pattern.
var ErrCommandDenied = errors.New("command blocked by security policy")

// Exec runs command through sh -c in dir. A zero timeout uses the
// default; any timeout is capped at the configured maximum. A timeout
// is reported in the result, not as an error.
func (s *ShellExec) Exec(ctx context.Context, dir, command string, timeout time.Duration) (*ExecResult, error) {
	cmdLower := strings.ToLower(command)
	for _, denied := range s.deniedCmds {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return nil, fmt.Errorf("%w: matches denied pattern %q", ErrCommandDenied, denied)
		}
	}
	return s.Run(ctx, dir, []string{"sh", "-c", command}, timeout)
}

// Run executes argv directly, without a shell.
func (s *ShellExec) Run(ctx context.Context, dir string, argv []string, timeout time.Duration) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	if timeout > s.maxTimeout {
		timeout = s.maxTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	// Children that inherit the pipes must not hold Wait open forever.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{Duration: time.Since(start)}
	var cutOut, cutErr bool
	result.Stdout, cutOut = truncateOutput(stdout.String(), s.maxOutputBytes)
	result.Stderr, cutErr = truncateOutput(stderr.String(), s.maxOutputBytes)
	result.Truncated = cutOut || cutErr

	s.logger.Debug("command finished",
		"call_id", CallIDFromContext(ctx),
		"argv0", argv[0],
		"duration", result.Duration,
	)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.Error = fmt.Sprintf("command timed out after %s", timeout)
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Error = err.Error()
			result.ExitCode = -1
		}
	}

	return result, nil
}

// ShellTool exposes ShellExec to the model as the "shell" tool.
type ShellTool struct {
	exec *ShellExec
}

// NewShellTool creates the shell tool.
func NewShellTool(exec *ShellExec) *ShellTool {
	return &ShellTool{exec: exec}
}

func (t *ShellTool) Name() string { return "shell" }
func (t *ShellTool) Kind() Kind   { return KindShell }

func (t *ShellTool) Description() string {
	return "Run a shell command in the working directory and return its output and exit code."
}

func (t *ShellTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command line to run with sh -c",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (default 30, max 300)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) IsMutating(map[string]any) bool { return true }

// Command implements CommandResolver.
func (t *ShellTool) Command(args map[string]any, _ string) string {
	return stringArg(args, "command")
}

func (t *ShellTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	command, err := requireString(inv.Args, "command")
	if err != nil {
		return Failure("%v", err), nil
	}
	timeout := time.Duration(intArg(inv.Args, "timeout", 0)) * time.Second

	res, err := t.exec.Exec(ctx, inv.Cwd, command, timeout)
	if err != nil {
		return Failure("%v", err), nil
	}
	return execToResult(res), nil
}

func execToResult(res *ExecResult) *Result {
	r := &Result{
		Success:   res.ExitCode == 0 && !res.TimedOut && res.Error == "",
		Output:    res.Combined(),
		Error:     res.Error,
		Truncated: res.Truncated,
		Metadata: map[string]any{
			"duration_ms": res.Duration.Milliseconds(),
			"timed_out":   res.TimedOut,
		},
	}
	if !r.Success && r.Error == "" {
		r.Error = fmt.Sprintf("command exited with status %d", res.ExitCode)
	}
	return r.WithExitCode(res.ExitCode)
}
