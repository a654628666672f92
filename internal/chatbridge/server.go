// Package chatbridge lets remote users talk to Godel over a WebSocket.
// Each user gets a lazily created session, one turn at a time, and a
// rate limit. Agent events are streamed as JSON frames; confirmations
// round-trip as confirm_request / confirm_response frames.
package chatbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/PranavPipariya/Godel/internal/buildinfo"
	"github.com/PranavPipariya/Godel/internal/config"
	"github.com/PranavPipariya/Godel/internal/connwatch"
	"github.com/PranavPipariya/Godel/internal/session"
)

// Factory builds the session for a user on first contact. The bridge
// installs its own confirmer on the returned session.
type Factory func(ctx context.Context, userID string) (*session.Session, error)

// Server is the chat bridge.
type Server struct {
	cfg     config.ChatConfig
	allowed map[string]bool
	factory Factory
	logger  *slog.Logger
	metrics *Metrics

	upgrader websocket.Upgrader
	server   *http.Server

	// base is cancelled by Shutdown; connections and turns derive from it.
	base   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	users map[string]*user
	conns map[*client]struct{}
	deps  func() []connwatch.ServiceStatus
}

// New creates a bridge. Sessions are built by factory.
func New(cfg config.ChatConfig, factory Factory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultChatListen
	}
	allowed := make(map[string]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		allowed[u] = true
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		allowed: allowed,
		factory: factory,
		logger:  logger,
		metrics: newMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		base:   base,
		cancel: cancel,
		users:  make(map[string]*user),
		conns:  make(map[*client]struct{}),
	}
}

// Handler returns the bridge's routes.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleWS).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", s.metrics.handler()).Methods("GET")
	return s.withLogging(router)
}

// Start listens on the configured address. It blocks until the server
// stops; after Shutdown it returns nil.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("chat bridge listening", "address", s.cfg.Listen, "allowed_users", len(s.allowed))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("chat bridge: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, cancels in-flight turns, closes
// open sockets and shuts down every user session.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.cancel()

	s.mu.Lock()
	conns := make([]*client, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	users := make([]*user, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.users = make(map[string]*user)
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	for _, u := range users {
		u.wait(ctx)
		if sess := u.session(); sess != nil {
			if sErr := sess.Shutdown(ctx); sErr != nil {
				s.logger.Warn("session shutdown failed", "user", u.id, "error", sErr)
			}
		}
	}
	s.metrics.sessions.Set(0)
	return err
}

// SetDependencies registers the source of upstream service health
// reported by /health. Call it before Start.
func (s *Server) SetDependencies(fn func() []connwatch.ServiceStatus) {
	s.mu.Lock()
	s.deps = fn
	s.mu.Unlock()
}

func (s *Server) authorized(userID string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	return s.allowed[userID]
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.users)
	deps := s.deps
	s.mu.Unlock()

	body := map[string]any{
		"status":   "ok",
		"version":  buildinfo.Version,
		"uptime":   buildinfo.Uptime().String(),
		"sessions": n,
	}
	if deps != nil {
		services := deps()
		for _, svc := range services {
			if !svc.Ready {
				body["status"] = "degraded"
				break
			}
		}
		body["dependencies"] = services
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user parameter", http.StatusBadRequest)
		return
	}
	if !s.authorized(userID) {
		s.logger.Warn("chat user rejected", "user", userID, "remote", r.RemoteAddr)
		http.Error(w, fmt.Sprintf("Unauthorized. Your user ID is not in the allowed list.\nYour ID: %s", userID), http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "user", userID, "error", err)
		return
	}

	u := s.user(userID)
	c := newClient(ws, u, s)
	s.track(c, true)
	defer s.track(c, false)

	s.logger.Info("chat user connected", "user", userID, "remote", r.RemoteAddr)
	c.serve()
	s.logger.Info("chat user disconnected", "user", userID)
}

func (s *Server) track(c *client, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		s.conns[c] = struct{}{}
		s.metrics.connections.Inc()
		return
	}
	delete(s.conns, c)
	s.metrics.connections.Dec()
}

// user returns the state for userID, creating it on first contact.
func (s *Server) user(userID string) *user {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		return u
	}
	u := &user{
		id:      userID,
		limiter: newLimiter(s.cfg.Rate, s.cfg.Burst),
		pending: make(map[string]chan bool),
	}
	s.users[userID] = u
	return u
}

// sessionFor returns the user's session, building it on first use.
func (s *Server) sessionFor(ctx context.Context, u *user) (*session.Session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sess != nil {
		return u.sess, nil
	}
	sess, err := s.factory(ctx, u.id)
	if err != nil {
		return nil, err
	}
	sess.Approvals().SetConfirmer(u.confirm)
	u.sess = sess
	s.metrics.sessions.Inc()
	s.logger.Info("chat session created", "user", u.id, "session_id", sess.ID())
	return sess, nil
}

func newLimiter(perMinute float64, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), burst)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
