package chatbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PranavPipariya/Godel/internal/agent"
)

const (
	maxMessageBytes = 1 << 20
	writeTimeout    = 10 * time.Second
)

// client is one WebSocket connection.
type client struct {
	ws   *websocket.Conn
	user *user
	srv  *Server

	// ctx ends when the connection closes; in-flight turns derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newClient(ws *websocket.Conn, u *user, s *Server) *client {
	ctx, cancel := context.WithCancel(s.base)
	return &client{ws: ws, user: u, srv: s, ctx: ctx, cancel: cancel}
}

func (c *client) serve() {
	c.user.attach(c)
	defer func() {
		c.user.detach(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxMessageBytes)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.logger.Debug("websocket read ended", "user", c.user.id, "error", err)
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError("invalid frame: %v", err)
			continue
		}
		c.handle(in)
	}
}

func (c *client) handle(in Inbound) {
	switch in.Type {
	case FrameConfirmResponse:
		if !c.user.answer(in.ID, in.Approved) {
			c.sendError("no confirmation pending for %q", in.ID)
		}
	case FrameMessage, "":
		text := strings.TrimSpace(in.Text)
		switch {
		case text == "":
			c.sendError("empty message")
		case strings.HasPrefix(text, "/"):
			c.command(text)
		default:
			c.startTurn(text)
		}
	default:
		c.sendError("unknown frame type %q", in.Type)
	}
}

func (c *client) command(text string) {
	name := strings.Fields(text)[0]
	switch name {
	case "/start", "/help":
		c.send(Frame{Type: FrameInfo, Text: helpText})

	case "/clear":
		if c.user.busy() {
			c.sendError("a turn is in progress; try again when it finishes")
			return
		}
		sess := c.user.session()
		if sess == nil {
			c.send(Frame{Type: FrameInfo, Text: "No active session"})
			return
		}
		sess.Clear()
		c.send(Frame{Type: FrameInfo, Text: "Conversation history cleared"})

	case "/status":
		c.send(Frame{Type: FrameStatus, Status: c.status()})

	default:
		c.sendError("unknown command %s", name)
	}
}

func (c *client) status() *Status {
	st := &Status{Busy: c.user.busy()}
	sess := c.user.session()
	if sess == nil {
		return st
	}
	st.Active = true
	st.SessionID = sess.ID()
	st.Model = sess.Loop().Model()
	if st.Busy {
		// The conversation is being appended to; report identity only.
		return st
	}
	stats := sess.Stats()
	st.Messages = stats.Messages
	st.Turns = stats.Turns
	st.Tokens = stats.Usage.TotalTokens
	st.UpdatedAt = stats.UpdatedAt
	return st
}

func (c *client) startTurn(text string) {
	if !c.user.beginTurn() {
		c.srv.metrics.rejected.WithLabelValues("busy").Inc()
		c.sendError("a turn is already in progress")
		return
	}
	if !c.user.limiter.Allow() {
		c.user.endTurn()
		c.srv.metrics.rejected.WithLabelValues("rate_limited").Inc()
		c.sendError("rate limit exceeded, try again later")
		return
	}
	go c.runTurn(text)
}

func (c *client) runTurn(text string) {
	defer c.user.endTurn()
	logger := c.srv.logger.With("user", c.user.id)

	sess, err := c.srv.sessionFor(c.ctx, c.user)
	if err != nil {
		logger.Error("chat session creation failed", "error", err)
		c.srv.metrics.turns.WithLabelValues("session_error").Inc()
		c.sendError("could not start session: %v", err)
		return
	}

	outcome := "error"
events:
	for ev := range sess.Run(c.ctx, text) {
		frame := EventFrame{SessionID: sess.ID(), Event: ev}
		switch ev.Kind {
		case agent.EventTextComplete:
			frame.HTML = renderHTML(ev.Text)
			outcome = "complete"
		case agent.EventToolCallComplete:
			c.srv.metrics.toolCall(ev.ToolName, ev.Result != nil && ev.Result.Success)
		}
		if err := c.send(frame); err != nil {
			logger.Debug("chat event not delivered, stopping turn", "error", err)
			outcome = "disconnected"
			break events
		}
	}
	c.srv.metrics.turns.WithLabelValues(outcome).Inc()
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *client) sendError(format string, args ...any) {
	c.send(Frame{Type: FrameError, Error: fmt.Sprintf(format, args...)})
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		c.ws.Close()
	})
}
