package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/PranavPipariya/Godel/internal/tools"
)

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name string
	// Transport is "stdio" (default) or "http".
	Transport string

	Command string
	Args    []string
	Env     []string
	Dir     string

	URL     string
	Headers map[string]string

	// Include and Exclude filter tools by their MCP name. A non-empty
	// Include wins.
	Include []string
	Exclude []string
}

// Status is the connection state of a server.
type Status string

// Server states.
const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
	StatusDisconnected Status = "disconnected"
)

// ServerStatus is a snapshot of one server's health.
type ServerStatus struct {
	Name   string
	Status Status
	// Tools are the registry names bridged from this server.
	Tools []string
	Error string
}

// ConnectTimeout bounds the handshake and tool discovery per server.
const ConnectTimeout = 30 * time.Second

type server struct {
	cfg    ServerConfig
	client *Client
	status ServerStatus
}

// Manager owns the connections to every configured MCP server and the
// registry entries their tools occupy.
type Manager struct {
	registry *tools.Registry
	logger   *slog.Logger

	// newTransport is replaced in tests.
	newTransport func(ServerConfig, *slog.Logger) (Transport, error)

	mu      sync.Mutex
	servers []*server
	closed  bool
}

// NewManager creates a manager for servers. Nothing connects until Start.
func NewManager(servers []ServerConfig, registry *tools.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		registry:     registry,
		logger:       logger.With("component", "mcp"),
		newTransport: defaultTransport,
	}
	for _, cfg := range servers {
		m.servers = append(m.servers, &server{
			cfg:    cfg,
			status: ServerStatus{Name: cfg.Name, Status: StatusConnecting},
		})
	}
	return m
}

func defaultTransport(cfg ServerConfig, logger *slog.Logger) (Transport, error) {
	switch strings.ToLower(cfg.Transport) {
	case "", "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio server %s has no command", cfg.Name)
		}
		return NewStdioTransport(StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Dir:     cfg.Dir,
			Logger:  logger,
		}), nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http server %s has no url", cfg.Name)
		}
		return NewHTTPTransport(HTTPConfig{URL: cfg.URL, Headers: cfg.Headers, Logger: logger}), nil
	}
	return nil, fmt.Errorf("server %s: unknown transport %q", cfg.Name, cfg.Transport)
}

// Start connects every server concurrently. A server that fails is
// marked failed; Start itself only fails if the manager was shut down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("mcp manager is shut down")
	}
	servers := slices.Clone(m.servers)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.connect(ctx, s)
		}()
	}
	wg.Wait()
	return nil
}

func (m *Manager) connect(ctx context.Context, s *server) {
	logger := m.logger.With("mcp_server", s.cfg.Name)
	fail := func(err error) {
		logger.Warn("MCP server unavailable", "error", err)
		m.mu.Lock()
		s.status.Status = StatusFailed
		s.status.Error = err.Error()
		m.mu.Unlock()
	}

	transport, err := m.newTransport(s.cfg, logger)
	if err != nil {
		fail(err)
		return
	}
	client := NewClient(s.cfg.Name, transport, logger)

	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	if err := client.Initialize(ctx); err != nil {
		client.Close()
		fail(err)
		return
	}
	defs, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		fail(err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		client.Close()
		return
	}
	var names []string
	for _, td := range filterTools(defs, s.cfg.Include, s.cfg.Exclude) {
		t := newRemoteTool(s.cfg.Name, client, td)
		m.registry.Register(t)
		names = append(names, t.Name())
		logger.Debug("bridged MCP tool", "mcp_name", td.Name, "name", t.Name())
	}
	s.client = client
	s.status = ServerStatus{Name: s.cfg.Name, Status: StatusConnected, Tools: names}
	logger.Info("MCP server connected", "tools", len(names))
}

// Servers returns the status of every configured server, sorted by name.
func (m *Manager) Servers() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, s := range m.servers {
		st := s.status
		st.Tools = slices.Clone(st.Tools)
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b ServerStatus) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ServerStatus returns one server's status.
func (m *Manager) ServerStatus(name string) (ServerStatus, bool) {
	for _, st := range m.Servers() {
		if st.Name == name {
			return st, true
		}
	}
	return ServerStatus{}, false
}

// Ping checks every connected server and marks unresponsive ones failed.
func (m *Manager) Ping(ctx context.Context) {
	m.mu.Lock()
	servers := slices.Clone(m.servers)
	m.mu.Unlock()

	for _, s := range servers {
		m.mu.Lock()
		client := s.client
		m.mu.Unlock()
		if client == nil {
			continue
		}
		if err := client.Ping(ctx); err != nil {
			m.logger.Warn("MCP ping failed", "mcp_server", s.cfg.Name, "error", err)
			m.mu.Lock()
			s.status.Status = StatusFailed
			s.status.Error = err.Error()
			m.mu.Unlock()
		}
	}
}

// Shutdown removes bridged tools from the registry and closes every
// connection. Calling it again is a no-op.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	servers := slices.Clone(m.servers)
	m.mu.Unlock()

	var result *multierror.Error
	for _, s := range servers {
		m.mu.Lock()
		client, names := s.client, s.status.Tools
		s.client = nil
		s.status.Status = StatusDisconnected
		s.status.Tools = nil
		m.mu.Unlock()

		for _, n := range names {
			m.registry.Unregister(n)
		}
		if client != nil {
			if err := client.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close %s: %w", s.cfg.Name, err))
			}
		}
	}
	return result.ErrorOrNil()
}
