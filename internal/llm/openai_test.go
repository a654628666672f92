package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PranavPipariya/Godel/internal/conversation"
)

func sseServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv
}

func writeSSE(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, l := range lines {
		fmt.Fprintf(w, "data: %s\n\n", l)
	}
}

func collect(t *testing.T, c Client, req *Request) ([]StreamEvent, error) {
	t.Helper()
	var events []StreamEvent
	err := c.Stream(context.Background(), req, func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestOpenAIClient_StreamText(t *testing.T) {
	var gotBody map[string]any
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		writeSSE(w,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12,"prompt_tokens_details":{"cached_tokens":4}}}`,
			`[DONE]`,
		)
	})

	c := NewOpenAIClient(Config{BaseURL: srv.URL, APIKey: "sk-test"}, nil)
	defer c.Close()

	events, err := collect(t, c, &Request{
		Model:    "gpt-test",
		Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if gotBody["stream"] != true {
		t.Errorf("stream flag = %v, want true", gotBody["stream"])
	}

	var text strings.Builder
	for _, ev := range events[:len(events)-1] {
		if ev.Kind != EventTextDelta {
			t.Fatalf("unexpected event %v", ev.Kind)
		}
		text.WriteString(ev.Text)
	}
	if text.String() != "Hello" {
		t.Errorf("text = %q, want Hello", text.String())
	}

	done := events[len(events)-1]
	if done.Kind != EventDone || done.FinishReason != "stop" {
		t.Fatalf("last event = %+v", done)
	}
	want := conversation.TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12, CachedTokens: 4}
	if done.Usage != want {
		t.Errorf("usage = %+v, want %+v", done.Usage, want)
	}
}

func TestOpenAIClient_ToolCallDeltas(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"read_file","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"name":"list_dir","arguments":"{}"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.go\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`[DONE]`,
		)
	})
	c := NewOpenAIClient(Config{BaseURL: srv.URL}, nil)

	events, err := collect(t, c, &Request{Model: "m"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	args := map[string]string{}
	names := map[string]string{}
	for _, ev := range events {
		if ev.Kind != EventToolCallDelta {
			continue
		}
		if ev.ToolCall.ID == "" {
			t.Fatal("tool call delta without id")
		}
		args[ev.ToolCall.ID] += ev.ToolCall.Arguments
		if ev.ToolCall.Name != "" {
			names[ev.ToolCall.ID] = ev.ToolCall.Name
		}
	}
	if args["call_a"] != `{"path":"a.go"}` {
		t.Errorf("call_a args = %q", args["call_a"])
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 calls, got %v", names)
	}
	for id, name := range names {
		if id != "call_a" && (name != "list_dir" || !strings.HasPrefix(id, "call_")) {
			t.Errorf("generated id %q for %q", id, name)
		}
	}
	if last := events[len(events)-1]; last.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", last.FinishReason)
	}
}

func TestOpenAIClient_ToolCallsWithoutIndex(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"choices":[{"delta":{"tool_calls":[{"id":"call_a","function":{"name":"read_file","arguments":"{\"path\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"\"a.go\"}"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"id":"call_b","function":{"name":"read_file","arguments":"{\"path\":\"b.go\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`[DONE]`,
		)
	})
	c := NewOpenAIClient(Config{BaseURL: srv.URL}, nil)

	events, err := collect(t, c, &Request{Model: "m"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	var order []string
	args := map[string]string{}
	for _, ev := range events {
		if ev.Kind != EventToolCallDelta {
			continue
		}
		if _, seen := args[ev.ToolCall.ID]; !seen {
			order = append(order, ev.ToolCall.ID)
		}
		args[ev.ToolCall.ID] += ev.ToolCall.Arguments
	}
	if len(order) != 2 || order[0] != "call_a" || order[1] != "call_b" {
		t.Fatalf("calls = %v, want [call_a call_b]", order)
	}
	if args["call_a"] != `{"path":"a.go"}` || args["call_b"] != `{"path":"b.go"}` {
		t.Errorf("args = %v", args)
	}
}

func TestOpenAIClient_RetriesBeforeStreamStarts(t *testing.T) {
	var calls atomic.Int32
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		writeSSE(w, `{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`, `[DONE]`)
	})
	c := NewOpenAIClient(Config{BaseURL: srv.URL, Retry: fastRetry()}, nil)

	if _, err := collect(t, c, &Request{Model: "m"}); err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOpenAIClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	})
	c := NewOpenAIClient(Config{BaseURL: srv.URL, Retry: fastRetry()}, nil)

	_, err := collect(t, c, &Request{Model: "m"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOpenAIClient_TruncatedStream(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"choices":[{"delta":{"content":"partial"}}]}`)
	})
	c := NewOpenAIClient(Config{BaseURL: srv.URL, Retry: fastRetry()}, nil)

	events, err := collect(t, c, &Request{Model: "m"})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
	if len(events) != 1 {
		t.Errorf("stream was retried after delivering events: %d events", len(events))
	}
}

func TestOpenAIClient_CallbackErrorStops(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"choices":[{"delta":{"content":"a"}}]}`,
			`{"choices":[{"delta":{"content":"b"}}]}`,
			`[DONE]`,
		)
	})
	c := NewOpenAIClient(Config{BaseURL: srv.URL}, nil)

	stop := errors.New("stop")
	n := 0
	err := c.Stream(context.Background(), &Request{Model: "m"}, func(StreamEvent) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Stream() error = %v, want stop", err)
	}
	if n != 1 {
		t.Errorf("callback called %d times, want 1", n)
	}
}

func TestToOpenAIMessage(t *testing.T) {
	m := toOpenAIMessage(conversation.Message{
		Role:      conversation.RoleAssistant,
		ToolCalls: []conversation.ToolCall{{ID: "c1", Name: "list_dir"}},
	})
	if m.Content != nil {
		t.Errorf("tool-only assistant message should have null content, got %q", *m.Content)
	}
	if m.ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("empty arguments = %q, want {}", m.ToolCalls[0].Function.Arguments)
	}

	tool := toOpenAIMessage(conversation.Message{Role: conversation.RoleTool, Content: "", ToolCallID: "c1"})
	if tool.Content == nil || tool.ToolCallID != "c1" {
		t.Errorf("tool message = %+v", tool)
	}
}

func TestNew_Providers(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"", false},
		{"openai", false},
		{"Anthropic", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		c, err := New(Config{Provider: tt.provider}, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) error = %v, wantErr %v", tt.provider, err, tt.wantErr)
		}
		if c != nil {
			c.Close()
		}
	}
}
