package chatbridge

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/PranavPipariya/Godel/internal/approval"
	"github.com/PranavPipariya/Godel/internal/session"
)

var errNoClient = errors.New("no connection to ask for confirmation")

// user is the state kept per remote user across connections.
type user struct {
	id      string
	limiter *rate.Limiter

	mu      sync.Mutex
	sess    *session.Session
	conn    *client
	pending map[string]chan bool
	// turn is closed when the in-flight turn ends; nil when idle.
	turn chan struct{}
}

func (u *user) session() *session.Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sess
}

// attach makes c the connection that receives confirmation requests.
func (u *user) attach(c *client) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.conn = c
}

func (u *user) detach(c *client) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == c {
		u.conn = nil
	}
}

// beginTurn claims the user's single turn slot.
func (u *user) beginTurn() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.turn != nil {
		return false
	}
	u.turn = make(chan struct{})
	return true
}

func (u *user) endTurn() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.turn != nil {
		close(u.turn)
		u.turn = nil
	}
}

func (u *user) busy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.turn != nil
}

// wait blocks until the in-flight turn, if any, ends or ctx is done.
func (u *user) wait(ctx context.Context) {
	u.mu.Lock()
	done := u.turn
	u.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// confirm is the session's approval.Confirmer. It asks the attached
// connection and waits for the matching confirm_response.
func (u *user) confirm(ctx context.Context, req approval.Request) (bool, error) {
	answer := make(chan bool, 1)
	u.mu.Lock()
	c := u.conn
	u.pending[req.CallID] = answer
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		delete(u.pending, req.CallID)
		u.mu.Unlock()
	}()

	if c == nil {
		return false, errNoClient
	}
	if err := c.send(Frame{
		Type:        FrameConfirmRequest,
		ID:          req.CallID,
		ToolName:    req.ToolName,
		Description: req.Description,
		Arguments:   req.Context.Args,
	}); err != nil {
		return false, err
	}

	select {
	case ok := <-answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// answer delivers a confirm_response. It reports whether a request with
// that id was waiting.
func (u *user) answer(id string, approved bool) bool {
	u.mu.Lock()
	ch, ok := u.pending[id]
	u.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- approved:
	default:
	}
	return true
}
