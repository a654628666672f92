// Package llm streams chat completions from a remote model.
package llm

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/PranavPipariya/Godel/internal/conversation"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// ToolDef is one entry of the tool catalog sent with a request.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single completion round-trip.
type Request struct {
	Model       string
	Messages    []conversation.Message
	Tools       []ToolDef
	Temperature *float64
	MaxTokens   int
}

// EventKind identifies the type of stream event.
type EventKind int

const (
	// EventTextDelta carries an incremental piece of assistant text.
	EventTextDelta EventKind = iota
	// EventToolCallDelta carries part of a tool call. The first delta
	// for a call has its name; later ones carry argument fragments.
	EventToolCallDelta
	// EventDone ends the stream with the finish reason and usage.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventToolCallDelta:
		return "tool_call_delta"
	case EventDone:
		return "done"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ToolCallDelta is a fragment of a streamed tool call.
type ToolCallDelta struct {
	// Index is the position of the call within the response.
	Index int
	// ID is always set; providers that omit it get a generated one.
	ID        string
	Name      string
	Arguments string
}

// StreamEvent is one event of a completion stream.
type StreamEvent struct {
	Kind         EventKind
	Text         string
	ToolCall     *ToolCallDelta
	FinishReason string
	Usage        conversation.TokenUsage
}

// StreamCallback receives stream events in order. Returning an error
// stops the stream; Stream then returns that error.
type StreamCallback func(StreamEvent) error

// APIError is a non-2xx response from the completion endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}
