package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"

	"github.com/PranavPipariya/Godel/internal/agent"
	"github.com/PranavPipariya/Godel/internal/approval"
	"github.com/PranavPipariya/Godel/internal/session"
	"github.com/PranavPipariya/Godel/internal/tools"
)

// Output caps for tool results shown in the terminal. The model always
// sees the full result.
const (
	previewLines   = 8
	argPreviewRune = 80
)

// palette holds the terminal colors. Colors are forced on or off per
// palette so tests never depend on the process's tty state.
type palette struct {
	user, assistant, tool, ok, fail, warn, dim, bold *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		user:      color.New(color.FgCyan, color.Bold),
		assistant: color.New(color.FgMagenta, color.Bold),
		tool:      color.New(color.FgBlue),
		ok:        color.New(color.FgGreen),
		fail:      color.New(color.FgRed),
		warn:      color.New(color.FgYellow, color.Bold),
		dim:       color.New(color.Faint),
		bold:      color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.user, p.assistant, p.tool, p.ok, p.fail, p.warn, p.dim, p.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// kindColor picks the color a tool call is announced in.
func (p palette) kindColor(k tools.Kind) *color.Color {
	switch k {
	case tools.KindWrite, tools.KindShell:
		return p.warn
	case tools.KindMCP, tools.KindNetwork:
		return p.assistant
	}
	return p.tool
}

// isTerminal reports whether w is a terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth is the wrap width for w, or 0 (no wrapping) when w is
// not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// renderer draws agent events for a human and asks for confirmations.
type renderer struct {
	in    *bufio.Reader
	out   io.Writer
	pal   palette
	width int
	spin  *spinner.Spinner

	// registry resolves tool kinds for coloring; it follows the
	// session currently shown.
	registry *tools.Registry

	streaming bool
	line      strings.Builder
}

func newRenderer(in *bufio.Reader, out, status io.Writer) *renderer {
	r := &renderer{
		in:    in,
		out:   out,
		pal:   newPalette(isTerminal(out)),
		width: terminalWidth(out),
	}
	if isTerminal(status) {
		r.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(status))
	}
	return r
}

func (r *renderer) startSpinner(label string) {
	if r.spin == nil {
		return
	}
	r.spin.Suffix = " " + label
	if !r.spin.Active() {
		r.spin.Start()
	}
}

func (r *renderer) stopSpinner() {
	if r.spin != nil && r.spin.Active() {
		r.spin.Stop()
	}
}

// turn runs one turn of sess and draws its events. ok is false when the
// turn ended without a final answer.
func (r *renderer) turn(ctx context.Context, sess *session.Session, text string) (final string, ok bool) {
	r.registry = sess.Registry()
	r.startSpinner("thinking")
	defer r.stopSpinner()

	for ev := range sess.Run(ctx, text) {
		r.event(ev)
		if ev.Kind == agent.EventTextComplete {
			final, ok = ev.Text, true
		}
	}
	return final, ok
}

func (r *renderer) event(ev agent.Event) {
	switch ev.Kind {
	case agent.EventTextDelta:
		r.stopSpinner()
		if !r.streaming {
			fmt.Fprintf(r.out, "\n%s\n", r.pal.assistant.Sprint("godel"))
			r.streaming = true
		}
		r.write(ev.Text)

	case agent.EventTextComplete:
		r.stopSpinner()
		if r.streaming {
			r.endStream()
			return
		}
		if ev.Text != "" {
			fmt.Fprintf(r.out, "\n%s\n%s\n", r.pal.assistant.Sprint("godel"), r.wrap(ev.Text))
		}

	case agent.EventAgentError:
		r.stopSpinner()
		r.endStream()
		fmt.Fprintf(r.out, "\n%s\n", r.pal.fail.Sprintf("Error: %s", ev.Error))

	case agent.EventToolCallStart:
		r.stopSpinner()
		r.endStream()
		c := r.pal.kindColor(r.kind(ev.ToolName))
		fmt.Fprintf(r.out, "\n%s %s\n", c.Sprint("●"), c.Sprint(ev.ToolName)+r.pal.dim.Sprint(argSummary(ev.Arguments)))
		r.startSpinner("running " + ev.ToolName)

	case agent.EventToolCallComplete:
		r.stopSpinner()
		r.result(ev.Result)
		r.startSpinner("thinking")
	}
}

func (r *renderer) kind(name string) tools.Kind {
	if r.registry == nil {
		return ""
	}
	if t := r.registry.Get(name); t != nil {
		return t.Kind()
	}
	return ""
}

func (r *renderer) result(res *tools.Result) {
	if res == nil {
		return
	}
	if !res.Success {
		fmt.Fprintf(r.out, "  %s %s\n", r.pal.fail.Sprint("✗"), res.Error)
	} else {
		fmt.Fprintf(r.out, "  %s\n", r.pal.ok.Sprint("✓"))
	}

	if res.Diff != "" {
		for _, l := range strings.Split(strings.TrimRight(res.Diff, "\n"), "\n") {
			switch {
			case strings.HasPrefix(l, "+") && !strings.HasPrefix(l, "+++"):
				fmt.Fprintf(r.out, "    %s\n", r.pal.ok.Sprint(l))
			case strings.HasPrefix(l, "-") && !strings.HasPrefix(l, "---"):
				fmt.Fprintf(r.out, "    %s\n", r.pal.fail.Sprint(l))
			default:
				fmt.Fprintf(r.out, "    %s\n", r.pal.dim.Sprint(l))
			}
		}
	} else if out := strings.TrimRight(res.Output, "\n"); out != "" {
		lines := strings.Split(out, "\n")
		for _, l := range lines[:min(len(lines), previewLines)] {
			fmt.Fprintf(r.out, "    %s\n", r.pal.dim.Sprint(l))
		}
		if n := len(lines) - previewLines; n > 0 {
			fmt.Fprintf(r.out, "    %s\n", r.pal.dim.Sprintf("… %d more lines", n))
		}
	}

	if res.ExitCode != nil && *res.ExitCode != 0 {
		fmt.Fprintf(r.out, "    %s\n", r.pal.warn.Sprintf("exit code %d", *res.ExitCode))
	}
	if res.Truncated {
		fmt.Fprintf(r.out, "    %s\n", r.pal.dim.Sprint("(output truncated)"))
	}
}

// write streams assistant text, wrapping each completed line.
func (r *renderer) write(s string) {
	r.line.WriteString(s)
	for {
		buf := r.line.String()
		i := strings.IndexByte(buf, '\n')
		if i < 0 {
			return
		}
		fmt.Fprintln(r.out, r.wrap(buf[:i]))
		r.line.Reset()
		r.line.WriteString(buf[i+1:])
	}
}

func (r *renderer) endStream() {
	if !r.streaming {
		return
	}
	if r.line.Len() > 0 {
		fmt.Fprintln(r.out, r.wrap(r.line.String()))
		r.line.Reset()
	}
	r.streaming = false
}

func (r *renderer) wrap(s string) string {
	if r.width <= 0 {
		return s
	}
	return wordwrap.String(s, r.width)
}

// confirm asks on the terminal. End of input denies.
func (r *renderer) confirm(ctx context.Context, req approval.Request) (bool, error) {
	r.stopSpinner()
	r.endStream()

	fmt.Fprintf(r.out, "\n%s %s\n", r.pal.warn.Sprint("Approval required:"), r.pal.bold.Sprint(req.ToolName))
	fmt.Fprintf(r.out, "  %s\n", req.Description)
	for _, p := range req.Context.Paths {
		fmt.Fprintf(r.out, "  %s %s\n", r.pal.dim.Sprint("path:"), p)
	}
	fmt.Fprint(r.out, "Allow? [y/N] ")

	line, err := r.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(r.out)
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		r.startSpinner("running " + req.ToolName)
		return true, nil
	}
	return false, nil
}

// argSummary is a one-line rendering of tool arguments.
func argSummary(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	for _, key := range []string{"command", "path", "pattern", "url", "query"} {
		if v, ok := args[key].(string); ok {
			return "(" + truncateRunes(v, argPreviewRune) + ")"
		}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return "(" + truncateRunes(string(b), argPreviewRune) + ")"
}

func truncateRunes(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
