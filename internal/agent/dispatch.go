package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/PranavPipariya/Godel/internal/approval"
	"github.com/PranavPipariya/Godel/internal/conversation"
	"github.com/PranavPipariya/Godel/internal/tools"
)

// dispatch runs one tool call end to end: start event, approval,
// execution, tool message, completion event.
func (t *turn) dispatch(call conversation.ToolCall) {
	l := t.loop
	args := tools.ParseArguments(call.Arguments)
	t.toolCalls++

	t.emit(Event{
		Kind:      EventToolCallStart,
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: args,
	})
	if t.stopped {
		return
	}

	start := time.Now()
	res := t.execute(call, args)
	t.log.Info("tool call finished",
		"call_id", call.ID,
		"tool", call.Name,
		"success", res.Success,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if err := l.store.AppendToolResult(call.ID, res.ModelContent()); err != nil {
		t.log.Error("failed to append tool result", "call_id", call.ID, "error", err)
	}
	l.detector.Record(call.Name, args)

	t.emit(Event{
		Kind:      EventToolCallComplete,
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: args,
		Result:    res,
	})
}

// execute resolves, gates and invokes a call. It never returns nil.
func (t *turn) execute(call conversation.ToolCall, args map[string]any) *tools.Result {
	l := t.loop
	tool, err := l.registry.Lookup(call.Name)
	if err != nil {
		return tools.Failure("%v", err)
	}

	actx := approvalContext(tool, call.Name, args, l.cfg.Cwd)
	switch d := l.approvals.Check(actx); d {
	case approval.Rejected:
		return tools.Failure("action disallowed by approval policy %q", l.approvals.Policy())
	case approval.NeedsConfirmation:
		ok, err := l.approvals.RequestConfirmation(t.ctx, approval.Request{
			CallID:      call.ID,
			ToolName:    call.Name,
			Description: describe(actx),
			Context:     actx,
		})
		if err != nil {
			if t.ctx.Err() != nil {
				return tools.Failure("cancelled while waiting for confirmation")
			}
			return tools.Failure("confirmation failed: %v", err)
		}
		if !ok {
			return tools.Failure("action rejected by user")
		}
	}

	return t.invoke(tool, tools.Invocation{
		CallID: call.ID,
		Name:   call.Name,
		Args:   args,
		Cwd:    l.cfg.Cwd,
	})
}

func approvalContext(tool tools.Tool, name string, args map[string]any, cwd string) approval.Context {
	c := approval.Context{
		ToolName: name,
		Args:     args,
		Mutating: tool.IsMutating(args),
	}
	if pr, ok := tool.(tools.PathResolver); ok {
		c.Paths = pr.AffectedPaths(args, cwd)
	}
	if cr, ok := tool.(tools.CommandResolver); ok {
		c.Command = cr.Command(args, cwd)
	}
	if dc, ok := tool.(tools.DangerClassifier); ok {
		c.Dangerous = dc.IsDangerous(args)
	}
	return c
}

// describe renders the confirmation prompt for c.
func describe(c approval.Context) string {
	switch {
	case c.Command != "":
		return "Run shell command: " + c.Command
	case len(c.Paths) > 0:
		return fmt.Sprintf("%s will modify: %s", c.ToolName, strings.Join(c.Paths, ", "))
	}
	b, err := json.Marshal(c.Args)
	if err != nil {
		return c.ToolName
	}
	return fmt.Sprintf("%s %s", c.ToolName, b)
}

type outcome struct {
	res *tools.Result
	err error
}

// invoke runs the tool under the tool timeout. A tool that ignores its
// context is abandoned when the deadline passes.
func (t *turn) invoke(tool tools.Tool, inv tools.Invocation) *tools.Result {
	l := t.loop
	ctx, cancel := context.WithTimeout(t.ctx, l.cfg.ToolTimeout)
	defer cancel()
	ctx = tools.WithCallID(tools.WithSessionID(ctx, l.cfg.SessionID), inv.CallID)

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("tool panicked", "tool", inv.Name, "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := tool.Execute(ctx, inv)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		select {
		case out = <-done:
		case <-time.After(time.Second):
			t.log.Warn("tool did not stop after its context ended", "tool", inv.Name)
			out = outcome{err: ctx.Err()}
		}
	}

	if out.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && t.ctx.Err() == nil {
			return tools.Failure("tool %s timed out after %s", inv.Name, l.cfg.ToolTimeout)
		}
		if t.ctx.Err() != nil {
			return tools.Failure("cancelled")
		}
		return tools.Failure("%v", out.err)
	}
	if out.res == nil {
		return tools.Success("")
	}
	return out.res
}
