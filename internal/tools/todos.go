package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type todoItem struct {
	ID   int
	Text string
	Done bool
}

// TodoTool keeps a task list for the current session. The list lives
// only in memory.
type TodoTool struct {
	mu     sync.Mutex
	items  []todoItem
	nextID int
}

func NewTodoTool() *TodoTool { return &TodoTool{nextID: 1} }

func (t *TodoTool) Name() string                   { return "todos" }
func (t *TodoTool) Kind() Kind                     { return KindMemory }
func (t *TodoTool) IsMutating(map[string]any) bool { return false }

func (t *TodoTool) Description() string {
	return "Track a task list for multi-step work. Actions: add, complete, remove, list, clear."
}

func (t *TodoTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"add", "complete", "remove", "list", "clear"},
			},
			"text": map[string]any{"type": "string", "description": "Task text for add"},
			"id":   map[string]any{"type": "integer", "description": "Task id for complete or remove"},
		},
		"required": []string{"action"},
	}
}

func (t *TodoTool) Execute(_ context.Context, inv Invocation) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch action := stringArg(inv.Args, "action"); action {
	case "add":
		text := strings.TrimSpace(stringArg(inv.Args, "text"))
		if text == "" {
			return Failure("text is required for add"), nil
		}
		t.items = append(t.items, todoItem{ID: t.nextID, Text: text})
		t.nextID++
	case "complete", "remove":
		id := intArg(inv.Args, "id", 0)
		idx := -1
		for i, it := range t.items {
			if it.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Failure("no task with id %d", id), nil
		}
		if action == "complete" {
			t.items[idx].Done = true
		} else {
			t.items = append(t.items[:idx], t.items[idx+1:]...)
		}
	case "clear":
		t.items = nil
	case "list", "":
	default:
		return Failure("unknown action %q", action), nil
	}

	res := Success(t.render())
	res.Metadata = map[string]any{"count": len(t.items)}
	return res, nil
}

func (t *TodoTool) render() string {
	if len(t.items) == 0 {
		return "No tasks."
	}
	var b strings.Builder
	for _, it := range t.items {
		mark := " "
		if it.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] %d. %s\n", mark, it.ID, it.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
