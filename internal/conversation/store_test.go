package conversation

import (
	"errors"
	"testing"
	"time"
)

func TestNewStoreSystemPrompt(t *testing.T) {
	s := NewStore("you are helpful")
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len(Messages()) = %d, want 1", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "you are helpful" {
		t.Errorf("Messages()[0] = %+v, want system prompt", msgs[0])
	}

	if got := NewStore("").Len(); got != 0 {
		t.Errorf("NewStore(\"\").Len() = %d, want 0", got)
	}
}

func TestAppendOrderPreserved(t *testing.T) {
	s := NewStore("sys")
	s.AppendUser("list files")
	s.AppendAssistant("", []ToolCall{
		{ID: "c1", Name: "list_dir", Arguments: `{"path":"/tmp"}`},
		{ID: "c2", Name: "read_file", Arguments: `{"path":"a"}`},
	})
	if err := s.AppendToolResult("c1", "a\nb"); err != nil {
		t.Fatalf("AppendToolResult(c1) error: %v", err)
	}
	if err := s.AppendToolResult("c2", "contents"); err != nil {
		t.Fatalf("AppendToolResult(c2) error: %v", err)
	}
	s.AppendAssistant("done", nil)

	want := []Role{RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleTool, RoleAssistant}
	msgs := s.Messages()
	if len(msgs) != len(want) {
		t.Fatalf("len(Messages()) = %d, want %d", len(msgs), len(want))
	}
	for i, r := range want {
		if msgs[i].Role != r {
			t.Errorf("Messages()[%d].Role = %q, want %q", i, msgs[i].Role, r)
		}
	}
	if msgs[3].ToolCallID != "c1" || msgs[4].ToolCallID != "c2" {
		t.Errorf("tool call ids = %q, %q; want c1, c2", msgs[3].ToolCallID, msgs[4].ToolCallID)
	}
	if len(s.PendingCalls()) != 0 {
		t.Errorf("PendingCalls() = %v, want empty", s.PendingCalls())
	}
}

func TestAppendToolResultInvariants(t *testing.T) {
	tests := []struct {
		name    string
		results []string
		wantErr error
	}{
		{name: "unknown id", results: []string{"nope"}, wantErr: ErrUnknownCallID},
		{name: "out of order", results: []string{"c2"}, wantErr: ErrOutOfOrderToolResult},
		{name: "duplicate", results: []string{"c1", "c1"}, wantErr: ErrOutOfOrderToolResult},
		{name: "in order", results: []string{"c1", "c2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore("")
			s.AppendUser("hi")
			s.AppendAssistant("", []ToolCall{{ID: "c1", Name: "a"}, {ID: "c2", Name: "b"}})

			var err error
			for _, id := range tt.results {
				if err = s.AppendToolResult(id, "ok"); err != nil {
					break
				}
			}
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("AppendToolResult() error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AppendToolResult() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolResultBindsToNearestAssistant(t *testing.T) {
	s := NewStore("")
	s.AppendAssistant("", []ToolCall{{ID: "old", Name: "a"}})
	if err := s.AppendToolResult("old", "ok"); err != nil {
		t.Fatalf("AppendToolResult(old) error: %v", err)
	}
	s.AppendAssistant("", []ToolCall{{ID: "new", Name: "a"}})

	if err := s.AppendToolResult("old", "again"); !errors.Is(err, ErrUnknownCallID) {
		t.Errorf("AppendToolResult(old) error = %v, want ErrUnknownCallID", err)
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := NewStore("")
	s.AppendAssistant("", []ToolCall{{ID: "c1", Name: "a"}})

	msgs := s.Messages()
	msgs[0].ToolCalls[0].Name = "mutated"
	msgs[0].Content = "mutated"

	again := s.Messages()
	if again[0].ToolCalls[0].Name != "a" || again[0].Content != "" {
		t.Errorf("store was mutated through Messages(): %+v", again[0])
	}
}

func TestClearKeepsSystemAndResetsUsage(t *testing.T) {
	s := NewStore("sys")
	s.AppendUser("hello")
	s.AddUsage(TokenUsage{PromptTokens: 10, TotalTokens: 10})

	s.Clear()

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Errorf("Messages() after Clear = %+v, want only system prompt", msgs)
	}
	if !s.Usage().IsZero() {
		t.Errorf("Usage() after Clear = %+v, want zero", s.Usage())
	}
}

func TestSetSystemPrompt(t *testing.T) {
	s := NewStore("")
	s.AppendUser("hi")
	s.SetSystemPrompt("new")
	msgs := s.Messages()
	if msgs[0].Role != RoleSystem || msgs[0].Content != "new" {
		t.Errorf("Messages()[0] = %+v, want system prompt %q", msgs[0], "new")
	}
	s.SetSystemPrompt("")
	if s.Messages()[0].Role != RoleUser {
		t.Errorf("system prompt not removed")
	}
}

func TestSetUpdatedAt(t *testing.T) {
	s := NewStore("sys")
	s.AppendUser("hi")
	when := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetUpdatedAt(when)
	if !s.UpdatedAt().Equal(when) {
		t.Errorf("UpdatedAt() = %v, want %v", s.UpdatedAt(), when)
	}
	s.AppendUser("again")
	if !s.UpdatedAt().After(when) {
		t.Errorf("UpdatedAt() = %v after append, want later than %v", s.UpdatedAt(), when)
	}
}

func TestReplaySkipsSystem(t *testing.T) {
	src := NewStore("old system")
	src.AppendUser("q")
	src.AppendAssistant("", []ToolCall{{ID: "c1", Name: "shell", Arguments: `{}`}})
	if err := src.AppendToolResult("c1", "out"); err != nil {
		t.Fatalf("AppendToolResult() error: %v", err)
	}
	src.AppendAssistant("answer", nil)

	dst := NewStore("new system")
	if err := dst.Replay(src.Messages()); err != nil {
		t.Fatalf("Replay() error: %v", err)
	}

	got := dst.Messages()
	if len(got) != src.Len() {
		t.Fatalf("len = %d, want %d", len(got), src.Len())
	}
	if got[0].Content != "new system" {
		t.Errorf("system prompt = %q, want %q", got[0].Content, "new system")
	}
	want := src.Messages()
	for i := 1; i < len(got); i++ {
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content || got[i].ToolCallID != want[i].ToolCallID {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
		if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Errorf("message %d CreatedAt = %v, want %v", i, got[i].CreatedAt, want[i].CreatedAt)
		}
	}
}

func TestReplayRejectsBrokenLog(t *testing.T) {
	dst := NewStore("")
	err := dst.Replay([]Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleTool, Content: "orphan", ToolCallID: "x"},
	})
	if !errors.Is(err, ErrUnknownCallID) {
		t.Errorf("Replay() error = %v, want ErrUnknownCallID", err)
	}
}
