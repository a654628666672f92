package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/PranavPipariya/Godel/internal/approval"
	"github.com/PranavPipariya/Godel/internal/persistence"
	"github.com/PranavPipariya/Godel/internal/session"
)

const replHelp = `Commands:
  /help                    Show this help
  /exit, /quit             Leave Godel
  /clear                   Clear the conversation
  /config                  Show the active configuration
  /model [name]            Show or change the model
  /approval [policy]       Show or change the approval policy
  /stats                   Show session statistics
  /tools                   List available tools
  /mcp                     Show MCP server status
  /save                    Save this session
  /sessions                List saved sessions
  /resume <session_id>     Resume a saved session
  /checkpoint              Create a checkpoint of this session
  /checkpoints             List checkpoints of this session
  /restore <checkpoint_id> Restore a checkpoint

Press Ctrl-C to interrupt a running turn.`

// repl is one interactive session. sess is replaced by /resume and
// /restore.
type repl struct {
	a    *app
	r    *renderer
	sess *session.Session

	mu         sync.Mutex
	cancelTurn context.CancelFunc
}

func (a *app) runREPL(ctx context.Context) error {
	r := newRenderer(a.stdin, a.stdout, a.stderr)
	sess, err := session.New(ctx, a.cfg, a.deps(r.confirm))
	if err != nil {
		return err
	}
	rp := &repl{a: a, r: r, sess: sess}
	defer func() { a.shutdown(ctx, rp.sess) }()

	stop := rp.watchInterrupts()
	defer stop()

	rp.welcome()
	for {
		fmt.Fprint(a.stdout, "\n"+r.pal.user.Sprint(">")+" ")
		line, err := a.stdin.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			if !rp.command(ctx, line) {
				fmt.Fprintln(a.stdout, r.pal.dim.Sprint("\nGoodbye!"))
				return nil
			}
		default:
			rp.turn(ctx, line)
		}
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Fprintln(a.stdout, r.pal.dim.Sprint("\nGoodbye!"))
	return nil
}

func (rp *repl) welcome() {
	cfg := rp.a.cfg
	w := rp.a.stdout
	fmt.Fprintln(w, rp.r.pal.assistant.Sprint("Godel"))
	fmt.Fprintf(w, "  %s %s\n", rp.r.pal.dim.Sprint("model:"), cfg.Model.Name)
	fmt.Fprintf(w, "  %s %s\n", rp.r.pal.dim.Sprint("cwd:"), rp.sess.Cwd())
	fmt.Fprintf(w, "  %s %s\n", rp.r.pal.dim.Sprint("approval:"), rp.sess.Approvals().Policy())
	fmt.Fprintf(w, "  %s /help /config /approval /model /exit\n", rp.r.pal.dim.Sprint("commands:"))
}

// watchInterrupts turns Ctrl-C into turn cancellation. Between turns it
// only prints a hint.
func (rp *repl) watchInterrupts() (stop func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sig:
				rp.mu.Lock()
				cancel := rp.cancelTurn
				rp.mu.Unlock()
				if cancel != nil {
					cancel()
				} else {
					fmt.Fprintln(rp.a.stdout, rp.r.pal.dim.Sprint("\nUse /exit to quit"))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

func (rp *repl) turn(ctx context.Context, text string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rp.mu.Lock()
	rp.cancelTurn = cancel
	rp.mu.Unlock()
	defer func() {
		rp.mu.Lock()
		rp.cancelTurn = nil
		rp.mu.Unlock()
	}()

	rp.r.turn(ctx, rp.sess, text)
	if ctx.Err() != nil {
		fmt.Fprintln(rp.a.stdout, rp.r.pal.dim.Sprint("(interrupted)"))
	}
}

// command runs a slash command. It returns false to leave the REPL.
func (rp *repl) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)
	w := rp.a.stdout
	pal := rp.r.pal

	switch name {
	case "/exit", "/quit":
		return false

	case "/help":
		fmt.Fprintln(w, replHelp)

	case "/clear":
		rp.sess.Clear()
		fmt.Fprintln(w, pal.ok.Sprint("Conversation cleared"))

	case "/config":
		cfg := rp.a.cfg
		fmt.Fprintln(w, pal.bold.Sprint("\nCurrent configuration"))
		fmt.Fprintf(w, "  Config file: %s\n", valueOr(rp.a.cfgPath, "(defaults)"))
		fmt.Fprintf(w, "  Provider:    %s\n", cfg.Model.Provider)
		fmt.Fprintf(w, "  Model:       %s\n", rp.sess.Loop().Model())
		if cfg.Model.Temperature != nil {
			fmt.Fprintf(w, "  Temperature: %v\n", *cfg.Model.Temperature)
		}
		fmt.Fprintf(w, "  Approval:    %s\n", rp.sess.Approvals().Policy())
		fmt.Fprintf(w, "  Working dir: %s\n", rp.sess.Cwd())
		fmt.Fprintf(w, "  Max turns:   %d\n", cfg.MaxTurns)
		fmt.Fprintf(w, "  Data dir:    %s\n", cfg.Persistence.DataDir)
		fmt.Fprintf(w, "  Web search:  %s\n", valueOr(cfg.Search.Provider, "(off)"))

	case "/model":
		if arg == "" {
			fmt.Fprintf(w, "Current model: %s\n", rp.sess.Loop().Model())
			break
		}
		rp.sess.Loop().SetModel(arg)
		rp.a.cfg.Model.Name = arg
		fmt.Fprintln(w, pal.ok.Sprintf("Model changed to: %s", arg))

	case "/approval":
		if arg == "" {
			fmt.Fprintf(w, "Current approval policy: %s\n", rp.sess.Approvals().Policy())
			break
		}
		p, err := approval.ParsePolicy(arg)
		if err != nil {
			fmt.Fprintln(w, pal.fail.Sprintf("Incorrect approval policy: %s", arg))
			fmt.Fprintf(w, "Valid options: %s\n", policyList())
			break
		}
		rp.sess.Approvals().SetPolicy(p)
		rp.a.cfg.Approval.Policy = string(p)
		fmt.Fprintln(w, pal.ok.Sprintf("Approval policy changed to: %s", p))

	case "/stats":
		st := rp.sess.Stats()
		fmt.Fprintln(w, pal.bold.Sprint("\nSession statistics"))
		fmt.Fprintf(w, "  session_id:        %s\n", st.SessionID)
		fmt.Fprintf(w, "  model:             %s\n", st.Model)
		fmt.Fprintf(w, "  approval:          %s\n", st.Policy)
		fmt.Fprintf(w, "  turns:             %d\n", st.Turns)
		fmt.Fprintf(w, "  messages:          %d\n", st.Messages)
		fmt.Fprintf(w, "  tools:             %d\n", st.Tools)
		fmt.Fprintf(w, "  prompt_tokens:     %d\n", st.Usage.PromptTokens)
		fmt.Fprintf(w, "  completion_tokens: %d\n", st.Usage.CompletionTokens)
		fmt.Fprintf(w, "  total_tokens:      %d\n", st.Usage.TotalTokens)
		fmt.Fprintf(w, "  created_at:        %s\n", st.CreatedAt.Local().Format(time.DateTime))
		fmt.Fprintf(w, "  updated_at:        %s\n", st.UpdatedAt.Local().Format(time.DateTime))

	case "/tools":
		renderTools(w, rp.sess.Registry().List())

	case "/mcp":
		renderMCP(w, rp.sess.MCP().Servers(), pal)

	case "/save":
		store, ok := rp.store()
		if !ok {
			break
		}
		if err := store.Save(rp.sess.Snapshot()); err != nil {
			rp.fail("save session: %v", err)
			break
		}
		fmt.Fprintln(w, pal.ok.Sprintf("Session saved: %s", rp.sess.ID()))

	case "/sessions":
		store, ok := rp.store()
		if !ok {
			break
		}
		list, err := store.ListSessions()
		if err != nil {
			rp.fail("list sessions: %v", err)
			break
		}
		renderSessions(w, list, time.Now())

	case "/resume":
		if arg == "" {
			rp.fail("Usage: /resume <session_id>")
			break
		}
		store, ok := rp.store()
		if !ok {
			break
		}
		snap, err := store.Load(arg)
		if err != nil {
			rp.fail("load session: %v", err)
			break
		}
		if snap == nil {
			rp.fail("Session does not exist")
			break
		}
		if rp.swap(ctx, snap) {
			fmt.Fprintln(w, pal.ok.Sprintf("Resumed session: %s", rp.sess.ID()))
		}

	case "/checkpoint":
		store, ok := rp.store()
		if !ok {
			break
		}
		id, err := store.Checkpoint(rp.sess.Snapshot())
		if err != nil {
			rp.fail("create checkpoint: %v", err)
			break
		}
		fmt.Fprintln(w, pal.ok.Sprintf("Checkpoint created: %s", id))

	case "/checkpoints":
		store, ok := rp.store()
		if !ok {
			break
		}
		list, err := store.ListCheckpoints(rp.sess.ID())
		if err != nil {
			rp.fail("list checkpoints: %v", err)
			break
		}
		renderCheckpoints(w, list, time.Now())

	case "/restore":
		if arg == "" {
			rp.fail("Usage: /restore <checkpoint_id>")
			break
		}
		store, ok := rp.store()
		if !ok {
			break
		}
		snap, err := store.LoadCheckpoint(arg)
		if err != nil {
			rp.fail("load checkpoint: %v", err)
			break
		}
		if snap == nil {
			rp.fail("Checkpoint does not exist")
			break
		}
		if rp.swap(ctx, snap) {
			fmt.Fprintln(w, pal.ok.Sprintf("Resumed session: %s, checkpoint: %s", rp.sess.ID(), arg))
		}

	default:
		rp.fail("Unknown command: %s", name)
	}
	return true
}

// swap builds a session from snap and, once it is ready, shuts down the
// current one and takes its place.
func (rp *repl) swap(ctx context.Context, snap *session.Snapshot) bool {
	next, err := session.Resume(ctx, rp.a.cfg, rp.a.deps(rp.r.confirm), snap)
	if err != nil {
		rp.fail("restore session: %v", err)
		return false
	}
	rp.a.shutdown(ctx, rp.sess)
	rp.sess = next
	return true
}

func (rp *repl) store() (*persistence.Store, bool) {
	s, err := rp.a.openStore()
	if err != nil {
		rp.fail("open session database: %v", err)
		return nil, false
	}
	return s, true
}

func (rp *repl) fail(format string, args ...any) {
	fmt.Fprintln(rp.a.stdout, rp.r.pal.fail.Sprintf(format, args...))
}

func policyList() string {
	names := make([]string, len(approval.Policies))
	for i, p := range approval.Policies {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
