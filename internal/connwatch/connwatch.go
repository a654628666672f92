// Package connwatch tracks whether the remote services a long-running
// Godel process depends on are reachable: the completion endpoint and
// any MCP servers spoken to over HTTP.
//
// This is distinct from httpkit's transport-level retry, which absorbs
// sub-second dial errors on a single request. A watcher reports outages
// that last seconds to minutes so health endpoints can say so.
//
// Each Watcher probes one service in two phases:
//  1. Startup: exponential backoff until the first success or MaxRetries
//  2. Background: periodic polling, invoking callbacks on transitions
package connwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PranavPipariya/Godel/internal/httpkit"
)

// ProbeFunc checks whether a service is reachable. It returns nil when
// healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls probe timing.
type BackoffConfig struct {
	// InitialDelay is the wait before the first startup retry.
	InitialDelay time.Duration
	// MaxDelay caps the startup backoff.
	MaxDelay   time.Duration
	Multiplier float64
	// MaxRetries bounds the startup phase.
	MaxRetries int
	// PollInterval is the background check interval.
	PollInterval time.Duration
	// ProbeTimeout limits each probe.
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig retries at 1s, 2s, 4s, ... capped at 30s, five
// times, then polls every 30s.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   5,
		PollInterval: 30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// withDefaults replaces zero or negative fields.
func (b BackoffConfig) withDefaults() BackoffConfig {
	def := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = def.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = def.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = def.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = def.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = def.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = def.ProbeTimeout
	}
	return b
}

// WatcherConfig configures a single service watcher.
type WatcherConfig struct {
	// Name identifies the service in logs and health output, e.g. "model".
	Name  string
	Probe ProbeFunc

	Backoff BackoffConfig

	// OnReady runs in its own goroutine when the service becomes
	// reachable. Optional.
	OnReady func()
	// OnDown runs in its own goroutine when a reachable service stops
	// answering. Optional.
	OnDown func(err error)

	Logger *slog.Logger
}

// ServiceStatus is the health of a watched service.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// Status returns the current health.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	if !w.startup(ctx) {
		return
	}
	w.poll(ctx)
}

// startup probes with exponential backoff. It returns false if ctx
// ended first.
func (w *Watcher) startup(ctx context.Context) bool {
	cfg := w.config.Backoff
	logger := w.config.Logger

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		if err == nil {
			logger.Info("service reachable", "service", w.config.Name, "attempts", attempt)
			w.transition(nil)
			return true
		}
		w.record(err)

		if attempt == cfg.MaxRetries {
			logger.Warn("service unreachable, polling in background",
				"service", w.config.Name, "attempts", attempt, "error", err)
			return true
		}
		logger.Debug("service probe failed, retrying",
			"service", w.config.Name, "attempt", attempt, "next_delay", delay, "error", err)

		if !sleepCtx(ctx, delay) {
			return false
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}
	return true
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.config.Backoff.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.transition(w.probe(ctx))
		}
	}
}

// transition records err and fires callbacks when readiness changes.
func (w *Watcher) transition(err error) {
	w.record(err)
	logger := w.config.Logger
	wasReady := w.ready.Load()

	switch {
	case wasReady && err != nil:
		w.ready.Store(false)
		logger.Warn("service became unreachable", "service", w.config.Name, "error", err)
		if w.config.OnDown != nil {
			go w.config.OnDown(err)
		}
	case !wasReady && err == nil:
		w.ready.Store(true)
		logger.Info("service ready", "service", w.config.Name)
		if w.config.OnReady != nil {
			go w.config.OnReady()
		}
	case err != nil:
		logger.Debug("service still unreachable", "service", w.config.Name, "error", err)
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()
	return w.config.Probe(probeCtx)
}

func (w *Watcher) record(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// HTTPProbe reports url reachable when it answers with any status below
// 500. Authentication failures still prove the endpoint is up.
func HTTPProbe(client *http.Client, url string) ProbeFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		httpkit.DrainAndClose(resp.Body, 4096)
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// Manager owns a set of watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts a watcher that runs until ctx is cancelled or Stop is
// called. Zero backoff fields take their defaults. An empty Name or a
// nil Probe is a programming error and panics.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	return w
}

// Status returns the health of every watched service, sorted by name.
func (m *Manager) Status() []ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop shuts down every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
