package agent

import (
	"github.com/PranavPipariya/Godel/internal/tools"
)

// EventKind identifies an agent event.
type EventKind string

// Agent event kinds.
const (
	EventTextDelta        EventKind = "text_delta"
	EventTextComplete     EventKind = "text_complete"
	EventAgentError       EventKind = "agent_error"
	EventToolCallStart    EventKind = "tool_call_start"
	EventToolCallComplete EventKind = "tool_call_complete"
)

// Event is one item of a turn's event stream. Presentation layers
// depend on nothing else.
type Event struct {
	Kind EventKind `json:"type"`

	// Text is the delta for EventTextDelta and the full answer for
	// EventTextComplete.
	Text string `json:"text,omitempty"`

	// Error is the message of an EventAgentError.
	Error string `json:"error,omitempty"`
	// Err is the underlying error, when there is one.
	Err error `json:"-"`

	CallID    string         `json:"call_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// Result is set on EventToolCallComplete.
	Result *tools.Result `json:"result,omitempty"`
}

func textDelta(s string) Event { return Event{Kind: EventTextDelta, Text: s} }

func textComplete(s string) Event { return Event{Kind: EventTextComplete, Text: s} }

func agentError(msg string, err error) Event {
	return Event{Kind: EventAgentError, Error: msg, Err: err}
}

// Observer receives every event a loop emits, before the consumer
// does. It must not block.
type Observer func(sessionID string, ev Event)
