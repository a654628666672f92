package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/PranavPipariya/Godel/internal/mcp"
	"github.com/PranavPipariya/Godel/internal/persistence"
	"github.com/PranavPipariya/Godel/internal/tools"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderSessions(w io.Writer, sessions []persistence.Summary, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No saved sessions.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Session", "Turns", "Messages", "Size", "Updated"})
	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.SessionID,
			s.TurnCount,
			s.MessageCount,
			humanize.Bytes(uint64(s.ByteSize)),
			humanize.RelTime(s.UpdatedAt, now, "ago", "from now"),
		})
	}
	t.Render()
}

func renderCheckpoints(w io.Writer, cps []persistence.CheckpointInfo, now time.Time) {
	if len(cps) == 0 {
		fmt.Fprintln(w, "No checkpoints.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Checkpoint", "Session", "Turns", "Messages", "Created"})
	for _, c := range cps {
		t.AppendRow(table.Row{
			c.ID,
			c.SessionID,
			c.TurnCount,
			c.MessageCount,
			humanize.RelTime(c.CreatedAt, now, "ago", "from now"),
		})
	}
	t.Render()
}

func renderTools(w io.Writer, list []tools.Tool) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Tool", "Kind", "Description"})
	for _, tool := range list {
		desc, _, _ := strings.Cut(tool.Description(), "\n")
		t.AppendRow(table.Row{tool.Name(), tool.Kind(), truncateRunes(desc, 60)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d tools", len(list))})
	t.Render()
}

func renderMCP(w io.Writer, servers []mcp.ServerStatus, pal palette) {
	if len(servers) == 0 {
		fmt.Fprintln(w, "No MCP servers configured.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Server", "Status", "Tools", "Error"})
	for _, s := range servers {
		status := pal.fail.Sprint(s.Status)
		if s.Status == mcp.StatusConnected {
			status = pal.ok.Sprint(s.Status)
		}
		t.AppendRow(table.Row{s.Name, status, len(s.Tools), s.Error})
	}
	t.Render()
}
