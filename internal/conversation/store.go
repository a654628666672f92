package conversation

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrUnknownCallID is returned when a tool result does not answer a
	// call made by the most recent assistant message.
	ErrUnknownCallID = errors.New("tool result references unknown call id")

	// ErrOutOfOrderToolResult is returned when tool results for one
	// assistant message arrive in a different order than the calls.
	ErrOutOfOrderToolResult = errors.New("tool result out of order")
)

// Store is the append-only message log of a session. It is not safe for
// concurrent use; callers serialize access per session.
type Store struct {
	system   string
	messages []Message
	usage    TokenUsage

	// calls made by the latest assistant message that still await a result.
	pending []string
	// every call id made by the latest assistant message.
	issued []string

	updatedAt time.Time
	now       func() time.Time
}

// NewStore creates a store whose log starts with systemPrompt. An empty
// prompt produces a log without a system message.
func NewStore(systemPrompt string) *Store {
	s := &Store{system: systemPrompt, now: time.Now}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.messages = nil
	s.pending = nil
	s.issued = nil
	s.usage = TokenUsage{}
	if s.system != "" {
		s.messages = append(s.messages, Message{Role: RoleSystem, Content: s.system, CreatedAt: s.now()})
	}
	s.updatedAt = s.now()
}

// SystemPrompt returns the prompt the log was created with.
func (s *Store) SystemPrompt() string { return s.system }

// SetSystemPrompt replaces the leading system message.
func (s *Store) SetSystemPrompt(prompt string) {
	s.system = prompt
	if len(s.messages) > 0 && s.messages[0].Role == RoleSystem {
		if prompt == "" {
			s.messages = s.messages[1:]
		} else {
			s.messages[0].Content = prompt
		}
		return
	}
	if prompt != "" {
		s.messages = append([]Message{{Role: RoleSystem, Content: prompt, CreatedAt: s.now()}}, s.messages...)
	}
}

// AppendUser appends a user message.
func (s *Store) AppendUser(text string) {
	s.append(Message{Role: RoleUser, Content: text})
}

// AppendAssistant appends an assistant message with its tool calls, in
// the order the model produced them.
func (s *Store) AppendAssistant(text string, calls []ToolCall) {
	m := Message{Role: RoleAssistant, Content: text}
	if len(calls) > 0 {
		m.ToolCalls = slices.Clone(calls)
	}
	s.pending = s.pending[:0]
	s.issued = s.issued[:0]
	for _, c := range calls {
		s.pending = append(s.pending, c.ID)
		s.issued = append(s.issued, c.ID)
	}
	s.append(m)
}

// AppendToolResult appends the result for callID. The id must belong to
// the nearest preceding assistant message, and results must follow the
// order of that message's calls.
func (s *Store) AppendToolResult(callID, text string) error {
	if !slices.Contains(s.issued, callID) {
		return fmt.Errorf("%w: %s", ErrUnknownCallID, callID)
	}
	if len(s.pending) == 0 || s.pending[0] != callID {
		return fmt.Errorf("%w: %s", ErrOutOfOrderToolResult, callID)
	}
	s.pending = s.pending[1:]
	s.append(Message{Role: RoleTool, Content: text, ToolCallID: callID})
	return nil
}

func (s *Store) append(m Message) {
	m.CreatedAt = s.now()
	s.messages = append(s.messages, m)
	s.updatedAt = m.CreatedAt
}

// PendingCalls returns the call ids of the latest assistant message that
// have no result yet, in call order.
func (s *Store) PendingCalls() []string {
	return slices.Clone(s.pending)
}

// Messages returns a copy of the log in append order.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of messages, system prompt included.
func (s *Store) Len() int { return len(s.messages) }

// Clear drops all non-system history and resets usage.
func (s *Store) Clear() {
	s.reset()
}

// Usage returns the accumulated token usage.
func (s *Store) Usage() TokenUsage { return s.usage }

// AddUsage adds delta to the accumulated usage.
func (s *Store) AddUsage(delta TokenUsage) {
	s.usage = s.usage.Add(delta)
}

// SetUsage replaces the accumulated usage. Used when restoring a snapshot.
func (s *Store) SetUsage(u TokenUsage) {
	s.usage = u
}

// UpdatedAt returns the time of the last append or clear.
func (s *Store) UpdatedAt() time.Time { return s.updatedAt }

// SetUpdatedAt overrides the last-activity time. Used when restoring a
// snapshot so replayed appends do not count as new activity.
func (s *Store) SetUpdatedAt(t time.Time) { s.updatedAt = t }

// Replay appends messages through the regular append operations, in
// order, skipping system entries. It stops at the first invariant
// violation.
func (s *Store) Replay(msgs []Message) error {
	for i, m := range msgs {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleUser:
			s.AppendUser(m.Content)
		case RoleAssistant:
			s.AppendAssistant(m.Content, m.ToolCalls)
		case RoleTool:
			if err := s.AppendToolResult(m.ToolCallID, m.Content); err != nil {
				return fmt.Errorf("replay message %d: %w", i, err)
			}
		default:
			return fmt.Errorf("replay message %d: unknown role %q", i, m.Role)
		}
		if !m.CreatedAt.IsZero() {
			s.messages[len(s.messages)-1].CreatedAt = m.CreatedAt
		}
	}
	return nil
}
