package chatbridge

import (
	"bytes"
	"time"

	"github.com/yuin/goldmark"

	"github.com/PranavPipariya/Godel/internal/agent"
)

// Frame types not produced by the agent.
const (
	FrameMessage         = "message"
	FrameConfirmRequest  = "confirm_request"
	FrameConfirmResponse = "confirm_response"
	FrameInfo            = "info"
	FrameStatus          = "status"
	FrameError           = "error"
)

// Inbound is a frame sent by the client.
type Inbound struct {
	Type string `json:"type"`
	// Text is the message for FrameMessage. Slash commands are
	// recognized here.
	Text string `json:"text,omitempty"`
	// ID and Approved answer a confirm_request.
	ID       string `json:"id,omitempty"`
	Approved bool   `json:"approved,omitempty"`
}

// EventFrame carries one agent event. HTML is set on text_complete.
type EventFrame struct {
	SessionID string `json:"session_id"`
	agent.Event
	HTML string `json:"html,omitempty"`
}

// Frame is every other outbound frame.
type Frame struct {
	Type string `json:"type"`

	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`

	// Confirmation requests.
	ID          string         `json:"id,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	Description string         `json:"description,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`

	Status *Status `json:"status,omitempty"`
}

// Status answers /status.
type Status struct {
	Active    bool      `json:"active"`
	SessionID string    `json:"session_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Messages  int       `json:"messages"`
	Turns     int       `json:"turns"`
	Tokens    int       `json:"tokens"`
	Busy      bool      `json:"busy"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

const helpText = `Godel AI Agent

Commands:
/start - Show this message
/clear - Clear conversation history
/status - Show session status

Send any message to interact with the agent.`

// renderHTML converts the final markdown answer. On failure the caller
// still has the plain text.
func renderHTML(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}
