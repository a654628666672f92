package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Request is what a human is shown when a call needs confirmation.
type Request struct {
	CallID      string
	ToolName    string
	Description string
	Context     Context
}

// Confirmer asks a human about a request and returns their verdict. It
// may block until they answer; it should return when ctx is done.
type Confirmer func(ctx context.Context, req Request) (bool, error)

// Config holds the settings a Manager starts with.
type Config struct {
	Policy    Policy
	Cwd       string
	PathCheck PathCheck
	// FailClosed denies confirmation requests when no Confirmer is set.
	// The zero value approves them.
	FailClosed bool
}

// Manager applies Decide with a session's settings and owns the single
// confirmation channel for that session.
type Manager struct {
	logger *slog.Logger

	mu         sync.RWMutex
	policy     Policy
	cwd        string
	pathCheck  PathCheck
	failClosed bool
	confirmer  Confirmer

	// one confirmation at a time
	turn chan struct{}
}

// NewManager creates a Manager. A nil logger falls back to slog.Default.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDefault
	}
	if cfg.PathCheck == "" {
		cfg.PathCheck = PathsAll
	}
	return &Manager{
		logger:     logger,
		policy:     cfg.Policy,
		cwd:        cfg.Cwd,
		pathCheck:  cfg.PathCheck,
		failClosed: cfg.FailClosed,
		turn:       make(chan struct{}, 1),
	}
}

// Policy returns the current policy.
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// SetPolicy switches the policy for subsequent decisions.
func (m *Manager) SetPolicy(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
}

// Cwd returns the working-directory root paths are checked against.
func (m *Manager) Cwd() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cwd
}

// SetConfirmer registers the human-confirmation callback. Passing nil
// removes it.
func (m *Manager) SetConfirmer(c Confirmer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmer = c
}

// Check returns the decision for c under the current settings.
func (m *Manager) Check(c Context) Decision {
	m.mu.RLock()
	policy, cwd, check := m.policy, m.cwd, m.pathCheck
	m.mu.RUnlock()

	d := Decide(c, policy, cwd, check)
	m.logger.Debug("approval decision",
		"tool", c.ToolName,
		"policy", string(policy),
		"decision", d.String(),
	)
	return d
}

// RequestConfirmation asks the registered Confirmer about req. Requests
// are queued so only one is in front of the human at a time. With no
// Confirmer registered the request is approved, unless the Manager was
// configured fail-closed.
//
// If ctx is done before the human answers, RequestConfirmation returns
// false and the context error.
func (m *Manager) RequestConfirmation(ctx context.Context, req Request) (bool, error) {
	m.mu.RLock()
	confirm, failClosed := m.confirmer, m.failClosed
	m.mu.RUnlock()

	if confirm == nil {
		if failClosed {
			m.logger.Warn("no confirmer registered, denying", "tool", req.ToolName)
			return false, nil
		}
		m.logger.Warn("no confirmer registered, approving", "tool", req.ToolName)
		return true, nil
	}

	select {
	case m.turn <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-m.turn }()

	type answer struct {
		ok  bool
		err error
	}
	done := make(chan answer, 1)
	go func() {
		ok, err := confirm(ctx, req)
		done <- answer{ok, err}
	}()

	select {
	case a := <-done:
		if a.err != nil {
			return false, fmt.Errorf("confirm %s: %w", req.ToolName, a.err)
		}
		m.logger.Info("confirmation answered", "tool", req.ToolName, "approved", a.ok)
		return a.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
