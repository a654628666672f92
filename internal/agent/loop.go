// Package agent drives one user turn through model round-trips and
// approval-gated tool calls, emitting a typed event stream.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PranavPipariya/Godel/internal/approval"
	"github.com/PranavPipariya/Godel/internal/conversation"
	"github.com/PranavPipariya/Godel/internal/llm"
	"github.com/PranavPipariya/Godel/internal/loopdetect"
	"github.com/PranavPipariya/Godel/internal/tools"
)

// Defaults applied to zero Config fields.
const (
	DefaultMaxTurns    = 25
	DefaultToolTimeout = 120 * time.Second
)

var (
	// ErrTurnInProgress is reported when Run is called while another
	// turn on the same loop has not finished.
	ErrTurnInProgress = errors.New("a turn is already in progress")

	// ErrLoopDetected ends a turn whose tool calls keep repeating.
	ErrLoopDetected = errors.New("possible infinite loop detected")

	// ErrMaxTurns ends a turn that used up its round-trip budget.
	ErrMaxTurns = errors.New("maximum turns exceeded")

	// errStopped unwinds a model stream whose consumer went away.
	errStopped = errors.New("event consumer stopped")
)

// Config holds per-session loop settings.
type Config struct {
	SessionID   string
	Model       string
	Temperature *float64
	MaxTokens   int
	// MaxTurns bounds model round-trips per user turn.
	MaxTurns int
	// ToolTimeout bounds each tool call's wall-clock time.
	ToolTimeout time.Duration
	// Cwd is passed to tools as the working directory.
	Cwd string
}

// Deps are the collaborators a loop drives. All but Observer and
// Logger are required.
type Deps struct {
	Client    llm.Client
	Store     *conversation.Store
	Registry  *tools.Registry
	Approvals *approval.Manager
	Detector  *loopdetect.Detector
	Observer  Observer
	Logger    *slog.Logger
}

// Loop runs turns for a single session. It is not reentrant: one turn
// at a time.
type Loop struct {
	cfg       Config
	client    llm.Client
	store     *conversation.Store
	registry  *tools.Registry
	approvals *approval.Manager
	detector  *loopdetect.Detector
	observer  Observer
	logger    *slog.Logger

	modelMu sync.RWMutex
	model   string

	running atomic.Bool
	turns   atomic.Int64
}

// NewLoop creates a loop.
func NewLoop(cfg Config, deps Deps) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:       cfg,
		client:    deps.Client,
		store:     deps.Store,
		registry:  deps.Registry,
		approvals: deps.Approvals,
		detector:  deps.Detector,
		observer:  deps.Observer,
		logger:    logger.With("session_id", cfg.SessionID),
		model:     cfg.Model,
	}
}

// Model returns the model used for new round-trips.
func (l *Loop) Model() string {
	l.modelMu.RLock()
	defer l.modelMu.RUnlock()
	return l.model
}

// SetModel switches the model for subsequent round-trips.
func (l *Loop) SetModel(model string) {
	l.modelMu.Lock()
	defer l.modelMu.Unlock()
	l.model = model
}

// Turns returns how many turns have been started.
func (l *Loop) Turns() int { return int(l.turns.Load()) }

// SetTurns replaces the turn counter, used when restoring a session.
func (l *Loop) SetTurns(n int) { l.turns.Store(int64(n)) }

// Busy reports whether a turn is in flight.
func (l *Loop) Busy() bool { return l.running.Load() }

// Run returns the event stream of one turn for text. The turn executes
// as the sequence is consumed; stopping iteration early or cancelling
// ctx ends it, leaving the conversation well formed.
//
// A turn always ends with exactly one EventTextComplete or
// EventAgentError, unless the consumer stopped first.
func (l *Loop) Run(ctx context.Context, text string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !l.running.CompareAndSwap(false, true) {
			yield(agentError(ErrTurnInProgress.Error(), ErrTurnInProgress))
			return
		}
		defer l.running.Store(false)

		n := l.turns.Add(1)
		t := &turn{
			loop:  l,
			ctx:   ctx,
			yield: yield,
			log:   l.logger.With("turn", n),
		}
		start := time.Now()
		t.run(text)
		t.log.Info("turn finished",
			"rounds", t.rounds,
			"tool_calls", t.toolCalls,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"stopped", t.stopped,
		)
	}
}

// Process runs a turn to completion and returns its final text. A turn
// that ends with EventAgentError returns that error.
func (l *Loop) Process(ctx context.Context, text string) (string, error) {
	var (
		final string
		err   error
	)
	for ev := range l.Run(ctx, text) {
		switch ev.Kind {
		case EventTextComplete:
			final = ev.Text
		case EventAgentError:
			err = ev.Err
			if err == nil {
				err = errors.New(ev.Error)
			}
		}
	}
	return final, err
}

// turn is the state of one Run.
type turn struct {
	loop    *Loop
	ctx     context.Context
	yield   func(Event) bool
	log     *slog.Logger
	stopped bool

	rounds    int
	toolCalls int
}

// emit delivers ev and reports whether the consumer wants more.
func (t *turn) emit(ev Event) bool {
	if t.stopped {
		return false
	}
	if obs := t.loop.observer; obs != nil {
		obs(t.loop.cfg.SessionID, ev)
	}
	if !t.yield(ev) {
		t.stopped = true
	}
	return !t.stopped
}

func (t *turn) run(text string) {
	l := t.loop
	l.store.AppendUser(text)

	for t.rounds < l.cfg.MaxTurns {
		t.rounds++
		log := t.log.With("round", t.rounds)

		reply, calls, usage, err := t.stream()
		if err != nil {
			if t.stopped || t.ctx.Err() != nil {
				t.abandon()
				return
			}
			log.Error("model request failed", "error", err)
			t.emit(agentError(fmt.Sprintf("model request failed: %v", err), err))
			return
		}

		l.store.AddUsage(usage)
		l.store.AppendAssistant(reply, calls)
		log.Debug("round complete",
			"tool_calls", len(calls),
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens,
		)

		if len(calls) == 0 {
			t.emit(textComplete(reply))
			return
		}

		for _, call := range calls {
			if t.stopped || t.ctx.Err() != nil {
				t.abandon()
				return
			}
			t.dispatch(call)
		}
		if t.stopped || t.ctx.Err() != nil {
			t.abandon()
			return
		}

		if loop, ok := l.detector.Check(); ok {
			log.Warn("tool loop detected", "loop", loop.String())
			t.emit(agentError(fmt.Sprintf("%v: %s", ErrLoopDetected, loop), ErrLoopDetected))
			return
		}
	}

	t.log.Warn("round-trip budget exhausted", "max_turns", l.cfg.MaxTurns)
	t.emit(agentError(fmt.Sprintf("%v (%d)", ErrMaxTurns, l.cfg.MaxTurns), ErrMaxTurns))
}

// abandon closes out a cancelled turn: every outstanding call of the
// last assistant message gets a cancelled result.
func (t *turn) abandon() {
	l := t.loop
	for _, id := range l.store.PendingCalls() {
		if err := l.store.AppendToolResult(id, "Error: cancelled before the tool ran"); err != nil {
			t.log.Error("failed to close cancelled call", "call_id", id, "error", err)
		}
	}
	if err := t.ctx.Err(); err != nil && !t.stopped {
		t.emit(agentError("turn cancelled", err))
	}
}

// callBuilder accumulates streamed fragments of one tool call.
type callBuilder struct {
	name string
	args []byte
}

// stream performs one model round-trip, forwarding text deltas as they
// arrive. Nothing is appended to the store here, so a failed stream
// leaves no partial assistant message behind.
func (t *turn) stream() (string, []conversation.ToolCall, conversation.TokenUsage, error) {
	l := t.loop
	req := &llm.Request{
		Model:       l.Model(),
		Messages:    l.store.Messages(),
		Tools:       toolDefs(l.registry),
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
	}

	var (
		text   []byte
		order  []string
		builds = map[string]*callBuilder{}
		usage  conversation.TokenUsage
	)
	err := l.client.Stream(t.ctx, req, func(ev llm.StreamEvent) error {
		switch ev.Kind {
		case llm.EventTextDelta:
			if ev.Text == "" {
				return nil
			}
			text = append(text, ev.Text...)
			if !t.emit(textDelta(ev.Text)) {
				return errStopped
			}
		case llm.EventToolCallDelta:
			tc := ev.ToolCall
			if tc == nil || tc.ID == "" {
				return nil
			}
			b, ok := builds[tc.ID]
			if !ok {
				b = &callBuilder{}
				builds[tc.ID] = b
				order = append(order, tc.ID)
			}
			if tc.Name != "" {
				b.name = tc.Name
			}
			b.args = append(b.args, tc.Arguments...)
		case llm.EventDone:
			usage = ev.Usage
		}
		return nil
	})
	if err != nil {
		return "", nil, usage, err
	}

	calls := make([]conversation.ToolCall, 0, len(order))
	for _, id := range order {
		b := builds[id]
		calls = append(calls, conversation.ToolCall{ID: id, Name: b.name, Arguments: string(b.args)})
	}
	return string(text), calls, usage, nil
}

func toolDefs(r *tools.Registry) []llm.ToolDef {
	defs := r.Definitions()
	out := make([]llm.ToolDef, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDef{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}
