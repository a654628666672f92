package tools

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MemoryTool stores key/value notes the model wants to keep across
// turns. Notes are kept per session id and survive Clear; sessions copy
// them into snapshots so a resumed session gets them back.
type MemoryTool struct {
	mu    sync.Mutex
	notes map[string]map[string]string
}

func NewMemoryTool() *MemoryTool {
	return &MemoryTool{notes: make(map[string]map[string]string)}
}

func (m *MemoryTool) Name() string                   { return "memory" }
func (m *MemoryTool) Kind() Kind                     { return KindMemory }
func (m *MemoryTool) IsMutating(map[string]any) bool { return false }

func (m *MemoryTool) Description() string {
	return "Remember facts for the rest of this session, such as user preferences, project conventions or decisions. " +
		"Actions: remember (key, value), recall (key or query), forget (key), list."
}

func (m *MemoryTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"remember", "recall", "forget", "list"},
			},
			"key":   map[string]any{"type": "string", "description": "Short identifier, e.g. test_command"},
			"value": map[string]any{"type": "string", "description": "Information to remember"},
			"query": map[string]any{"type": "string", "description": "Substring matched against keys and values for recall"},
		},
		"required": []string{"action"},
	}
}

func (m *MemoryTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	sid := SessionIDFromContext(ctx)
	key := strings.TrimSpace(stringArg(inv.Args, "key"))

	m.mu.Lock()
	defer m.mu.Unlock()
	notes := m.notes[sid]

	switch action := stringArg(inv.Args, "action"); action {
	case "remember":
		value := stringArg(inv.Args, "value")
		if key == "" || value == "" {
			return Failure("key and value are required for remember"), nil
		}
		if notes == nil {
			notes = make(map[string]string)
			m.notes[sid] = notes
		}
		notes[key] = value
		return Success(fmt.Sprintf("Remembered %s = %s", key, value)), nil

	case "recall":
		if key != "" {
			v, ok := notes[key]
			if !ok {
				return Success(fmt.Sprintf("Nothing remembered for %q", key)), nil
			}
			return Success(fmt.Sprintf("%s = %s", key, v)), nil
		}
		query := strings.ToLower(stringArg(inv.Args, "query"))
		if query == "" {
			return Failure("key or query is required for recall"), nil
		}
		matched := make(map[string]string)
		for k, v := range notes {
			if strings.Contains(strings.ToLower(k), query) || strings.Contains(strings.ToLower(v), query) {
				matched[k] = v
			}
		}
		if len(matched) == 0 {
			return Success(fmt.Sprintf("Nothing remembered matching %q", query)), nil
		}
		return Success(formatNotes(matched)), nil

	case "forget":
		if key == "" {
			return Failure("key is required for forget"), nil
		}
		if _, ok := notes[key]; !ok {
			return Failure("nothing remembered for %q", key), nil
		}
		delete(notes, key)
		return Success("Forgot " + key), nil

	case "list", "":
		if len(notes) == 0 {
			return Success("Memory is empty."), nil
		}
		res := Success(formatNotes(notes))
		res.Metadata = map[string]any{"count": len(notes)}
		return res, nil

	default:
		return Failure("unknown action %q", action), nil
	}
}

// Entries returns a copy of the notes kept for sessionID.
func (m *MemoryTool) Entries(sessionID string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.notes[sessionID]) == 0 {
		return nil
	}
	return maps.Clone(m.notes[sessionID])
}

// Load replaces the notes kept for sessionID.
func (m *MemoryTool) Load(sessionID string, notes map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(notes) == 0 {
		delete(m.notes, sessionID)
		return
	}
	m.notes[sessionID] = maps.Clone(notes)
}

func formatNotes(notes map[string]string) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(notes)) {
		fmt.Fprintf(&b, "- %s: %s\n", k, notes[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
