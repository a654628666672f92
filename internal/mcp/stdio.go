package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// StdioConfig describes an MCP server run as a subprocess speaking
// newline-delimited JSON-RPC on stdin/stdout.
type StdioConfig struct {
	Command string
	Args    []string
	// Env entries ("KEY=VALUE") are appended to the parent environment.
	Env []string
	// Dir is the subprocess working directory; empty inherits ours.
	Dir    string
	Logger *slog.Logger
}

// StdioTransport talks to a subprocess MCP server. The process is
// started lazily on first use and restarted after a failure.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	// sem serializes access to the pipes; a buffered channel lets
	// waiters give up when their context ends.
	sem    chan struct{}
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

// NewStdioTransport creates a stdio transport. Nothing runs until the
// first Send or Notify.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
		sem:    make(chan struct{}, 1),
	}
}

func (t *StdioTransport) acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
		// select picks randomly when both are ready.
		if err := ctx.Err(); err != nil {
			<-t.sem
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *StdioTransport) release() { <-t.sem }

// start launches the subprocess if needed. The process outlives
// individual request contexts. Caller must hold sem.
func (t *StdioTransport) start() error {
	if t.cmd != nil {
		return nil
	}

	t.logger.Info("starting MCP subprocess", "command", t.config.Command, "args", t.config.Args)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)
	cmd.Dir = t.config.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start subprocess %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 1<<20)
	go t.drainStderr(stderr)

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return nil
}

func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

func (t *StdioTransport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.reset()
		return fmt.Errorf("write to subprocess stdin: %w", err)
	}
	return nil
}

type lineResult struct {
	line []byte
	err  error
}

// Send writes req and reads lines until the response with the same id
// arrives. Server notifications and log noise in between are skipped.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	if err := t.start(); err != nil {
		return nil, err
	}
	if err := t.write(req); err != nil {
		return nil, err
	}

	reader := t.reader
	for {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := reader.ReadBytes('\n')
			ch <- lineResult{line: line, err: err}
		}()

		select {
		case <-ctx.Done():
			// Killing the process unblocks the pending read.
			t.reset()
			return nil, ctx.Err()
		case res := <-ch:
			if res.err != nil {
				t.reset()
				return nil, fmt.Errorf("read from subprocess stdout: %w", res.err)
			}
			var resp Response
			if err := json.Unmarshal(res.line, &resp); err != nil {
				t.logger.Debug("skipping non-JSON line from MCP subprocess", "line", string(res.line))
				continue
			}
			if resp.ID == req.ID && (resp.Result != nil || resp.Error != nil) {
				return &resp, nil
			}
			t.logger.Debug("skipping unmatched MCP message", "id", resp.ID)
		}
	}
}

// Notify writes a notification.
func (t *StdioTransport) Notify(ctx context.Context, notif *Notification) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if err := t.start(); err != nil {
		return err
	}
	return t.write(notif)
}

// Close closes stdin and waits up to five seconds for the subprocess to
// exit before killing it.
func (t *StdioTransport) Close() error {
	t.sem <- struct{}{}
	defer t.release()

	if t.cmd == nil {
		return nil
	}
	cmd := t.cmd
	t.logger.Info("stopping MCP subprocess", "pid", cmd.Process.Pid)
	t.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.logger.Warn("MCP subprocess did not exit, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
	}
	t.cmd, t.stdin, t.reader = nil, nil, nil
	return err
}

// reset kills the subprocess after a failure so the next call starts a
// fresh one. Caller must hold sem.
func (t *StdioTransport) reset() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	t.cmd, t.stdin, t.reader = nil, nil, nil
}
