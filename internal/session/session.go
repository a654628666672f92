// Package session aggregates everything one conversation needs: the
// message store, approval gate, loop detector, tool registry and the
// connections to the model and MCP servers. A Session owns those
// connections until Shutdown.
package session

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PranavPipariya/Godel/internal/agent"
	"github.com/PranavPipariya/Godel/internal/approval"
	"github.com/PranavPipariya/Godel/internal/config"
	"github.com/PranavPipariya/Godel/internal/conversation"
	"github.com/PranavPipariya/Godel/internal/fetch"
	"github.com/PranavPipariya/Godel/internal/forge"
	"github.com/PranavPipariya/Godel/internal/httpkit"
	"github.com/PranavPipariya/Godel/internal/llm"
	"github.com/PranavPipariya/Godel/internal/loopdetect"
	"github.com/PranavPipariya/Godel/internal/mcp"
	"github.com/PranavPipariya/Godel/internal/prompts"
	"github.com/PranavPipariya/Godel/internal/search"
	"github.com/PranavPipariya/Godel/internal/tools"
)

// Snapshot is the replayable state of a session. It holds no live
// resources.
type Snapshot struct {
	SessionID string                  `json:"session_id"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	TurnCount int                     `json:"turn_count"`
	Messages  []conversation.Message  `json:"messages"`
	Usage     conversation.TokenUsage `json:"usage"`
	// Memory holds the notes saved with the memory tool.
	Memory map[string]string `json:"memory,omitempty"`
}

// Deps are optional collaborators. Zero values are built from the
// configuration.
type Deps struct {
	// Client replaces the completion client built from cfg.Model.
	Client llm.Client
	// HTTPClient is used by web_fetch and the GitHub tools.
	HTTPClient *http.Client
	// Confirmer answers NEEDS_CONFIRMATION decisions.
	Confirmer approval.Confirmer
	// Observer sees every event of every turn.
	Observer agent.Observer
	// Tools are registered after the built-ins.
	Tools  []tools.Tool
	Logger *slog.Logger
}

// Stats summarizes a session for display.
type Stats struct {
	SessionID  string
	Model      string
	Policy     approval.Policy
	Cwd        string
	Turns      int
	Messages   int
	Tools      int
	Usage      conversation.TokenUsage
	CreatedAt  time.Time
	UpdatedAt  time.Time
	MCPServers []mcp.ServerStatus
}

// Session is one live conversation.
type Session struct {
	id        string
	createdAt time.Time
	cwd       string
	cfg       *config.Config
	logger    *slog.Logger

	client    llm.Client
	registry  *tools.Registry
	memory    *tools.MemoryTool
	mcp       *mcp.Manager
	approvals *approval.Manager
	detector  *loopdetect.Detector
	store     *conversation.Store
	loop      *agent.Loop

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a session with a fresh identifier, connecting to the
// configured model endpoint and MCP servers. MCP servers that fail to
// connect are reported by Stats, not by New.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Session, error) {
	return build(ctx, uuid.NewString(), time.Now().UTC(), cfg, deps)
}

// Resume creates a session that continues snap under its original
// identifier.
func Resume(ctx context.Context, cfg *config.Config, deps Deps, snap *Snapshot) (*Session, error) {
	if snap == nil || snap.SessionID == "" {
		return nil, fmt.Errorf("resume: snapshot has no session id")
	}
	s, err := build(ctx, snap.SessionID, snap.CreatedAt, cfg, deps)
	if err != nil {
		return nil, err
	}
	if err := s.Restore(snap); err != nil {
		s.Shutdown(ctx)
		return nil, err
	}
	return s, nil
}

func build(ctx context.Context, id string, createdAt time.Time, cfg *config.Config, deps Deps) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)

	cwd, err := resolveCwd(cfg.Cwd)
	if err != nil {
		return nil, err
	}

	policy, err := approval.ParsePolicy(cfg.Approval.Policy)
	if err != nil {
		return nil, err
	}
	pathCheck, err := approval.ParsePathCheck(cfg.Approval.PathCheck)
	if err != nil {
		return nil, err
	}

	client := deps.Client
	if client == nil {
		client, err = llm.New(llmConfig(cfg.Model), logger)
		if err != nil {
			return nil, fmt.Errorf("create completion client: %w", err)
		}
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithRetry(2, 250*time.Millisecond),
			httpkit.WithLogger(logger),
		)
	}

	registry := tools.NewRegistry(logger)
	memory := tools.NewMemoryTool()
	tools.RegisterBuiltins(registry, tools.BuiltinConfig{
		Shell:        tools.NewShellExec(shellConfig(cfg.Shell), logger),
		TestTimeout:  cfg.ToolTimeout,
		DisableShell: cfg.Shell.Disabled,
		Memory:       memory,
	})
	registry.Register(fetch.NewTool(fetch.New(
		fetch.WithClient(httpClient),
		fetch.WithMaxBytes(cfg.Fetch.MaxBytes),
		fetch.WithLogger(logger),
	)))
	if searcher := searchManager(cfg.Search, httpClient); searcher.Configured() {
		registry.Register(search.NewTool(searcher))
	}
	tools.RegisterForgeTools(registry, forge.NewTools(forge.Config{
		Token:   cfg.GitHub.Token,
		BaseURL: cfg.GitHub.BaseURL,
		Owner:   cfg.GitHub.Owner,
	}, httpClient, logger))
	for _, t := range deps.Tools {
		registry.Register(t)
	}

	manager := mcp.NewManager(mcpServers(cfg.MCPServers), registry, logger)
	if err := manager.Start(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("start mcp servers: %w", err)
	}

	approvals := approval.NewManager(approval.Config{
		Policy:     policy,
		Cwd:        cwd,
		PathCheck:  pathCheck,
		FailClosed: cfg.Approval.FailClosed,
	}, logger)
	if deps.Confirmer != nil {
		approvals.SetConfirmer(deps.Confirmer)
	}

	detector := loopdetect.New(loopdetect.Config{
		HistorySize:  cfg.LoopDetection.HistorySize,
		MaxRepeats:   cfg.LoopDetection.MaxRepeats,
		CycleRepeats: cfg.LoopDetection.CycleRepeats,
	})

	store := conversation.NewStore(systemPrompt(cfg, cwd, registry))

	loop := agent.NewLoop(agent.Config{
		SessionID:   id,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		MaxTurns:    cfg.MaxTurns,
		ToolTimeout: cfg.ToolTimeout,
		Cwd:         cwd,
	}, agent.Deps{
		Client:    client,
		Store:     store,
		Registry:  registry,
		Approvals: approvals,
		Detector:  detector,
		Observer:  deps.Observer,
		Logger:    logger,
	})

	logger.Debug("session created",
		"cwd", cwd,
		"model", cfg.Model.Name,
		"policy", string(policy),
		"tools", registry.Len(),
	)

	return &Session{
		id:        id,
		createdAt: createdAt,
		cwd:       cwd,
		cfg:       cfg,
		logger:    logger,
		client:    client,
		registry:  registry,
		memory:    memory,
		mcp:       manager,
		approvals: approvals,
		detector:  detector,
		store:     store,
		loop:      loop,
	}, nil
}

// systemPrompt renders the configured prompt with the current
// environment and tool set.
func systemPrompt(cfg *config.Config, cwd string, registry *tools.Registry) string {
	base := cfg.SystemPrompt
	if base == "" {
		base = prompts.BaseSystemPrompt()
	}
	return prompts.SystemPrompt(base, cwd, registry.Names(), time.Now())
}

func resolveCwd(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", abs)
	}
	return abs, nil
}

func llmConfig(m config.ModelConfig) llm.Config {
	retry := llm.DefaultRetryPolicy()
	if m.Retry.MaxRetries > 0 {
		retry.MaxRetries = m.Retry.MaxRetries
	}
	if m.Retry.BaseDelay > 0 {
		retry.BaseDelay = m.Retry.BaseDelay
	}
	if m.Retry.MaxDelay > 0 {
		retry.MaxDelay = m.Retry.MaxDelay
	}
	return llm.Config{
		Provider: m.Provider,
		BaseURL:  m.BaseURL,
		APIKey:   m.APIKey,
		Retry:    retry,
		Timeout:  m.Timeout,
	}
}

func searchManager(c config.SearchConfig, client *http.Client) *search.Manager {
	m := search.NewManager(c.Provider)
	if c.BraveAPIKey != "" {
		m.Register(search.NewBrave(search.BraveConfig{APIKey: c.BraveAPIKey}, client))
	}
	if c.SearXNGURL != "" {
		m.Register(search.NewSearXNG(search.SearXNGConfig{URL: c.SearXNGURL}, client))
	}
	return m
}

func shellConfig(c config.ShellConfig) tools.ShellExecConfig {
	sc := tools.DefaultShellExecConfig()
	if len(c.DeniedPatterns) > 0 {
		sc.DeniedCmds = c.DeniedPatterns
	}
	if c.DefaultTimeout > 0 {
		sc.DefaultTimeout = c.DefaultTimeout
	}
	if c.MaxTimeout > 0 {
		sc.MaxTimeout = c.MaxTimeout
	}
	if c.MaxOutputBytes > 0 {
		sc.MaxOutputBytes = c.MaxOutputBytes
	}
	return sc
}

func mcpServers(in []config.MCPServerConfig) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(in))
	for _, c := range in {
		env := make([]string, 0, len(c.Env))
		for k, v := range c.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		out = append(out, mcp.ServerConfig{
			Name:      c.Name,
			Transport: c.Transport,
			Command:   c.Command,
			Args:      c.Args,
			Env:       env,
			Dir:       c.Dir,
			URL:       c.URL,
			Headers:   c.Headers,
			Include:   c.Include,
			Exclude:   c.Exclude,
		})
	}
	return out
}

// ID returns the stable session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the conversation began.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Cwd returns the resolved working directory.
func (s *Session) Cwd() string { return s.cwd }

// Config returns the configuration the session was built from.
func (s *Session) Config() *config.Config { return s.cfg }

// Registry returns the session's tools.
func (s *Session) Registry() *tools.Registry { return s.registry }

// Approvals returns the approval gate.
func (s *Session) Approvals() *approval.Manager { return s.approvals }

// MCP returns the MCP server manager.
func (s *Session) MCP() *mcp.Manager { return s.mcp }

// Store returns the conversation log.
func (s *Session) Store() *conversation.Store { return s.store }

// Loop returns the turn loop.
func (s *Session) Loop() *agent.Loop { return s.loop }

// Run starts a turn. See agent.Loop.Run.
func (s *Session) Run(ctx context.Context, text string) iter.Seq[agent.Event] {
	return s.loop.Run(ctx, text)
}

// Process runs a turn to completion and returns its final text.
func (s *Session) Process(ctx context.Context, text string) (string, error) {
	return s.loop.Process(ctx, text)
}

// Snapshot captures the replayable state. The caller must not take a
// snapshot while a turn is appending to the store.
func (s *Session) Snapshot() *Snapshot {
	updated := s.store.UpdatedAt()
	if updated.IsZero() {
		updated = s.createdAt
	}
	return &Snapshot{
		SessionID: s.id,
		CreatedAt: s.createdAt,
		UpdatedAt: updated.UTC(),
		TurnCount: s.loop.Turns(),
		Messages:  s.store.Messages(),
		Usage:     s.store.Usage(),
		Memory:    s.memory.Entries(s.id),
	}
}

// Restore replaces the conversation with snap's messages, skipping
// system entries, and takes its usage and turn count as they are. The
// session keeps its own identifier.
func (s *Session) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("restore: nil snapshot")
	}
	if s.loop.Busy() {
		return agent.ErrTurnInProgress
	}
	s.store.Clear()
	if err := s.store.Replay(snap.Messages); err != nil {
		s.store.Clear()
		return fmt.Errorf("restore %s: %w", snap.SessionID, err)
	}
	s.store.SetUsage(snap.Usage)
	s.memory.Load(s.id, snap.Memory)
	if !snap.UpdatedAt.IsZero() {
		s.store.SetUpdatedAt(snap.UpdatedAt)
	}
	s.loop.SetTurns(snap.TurnCount)
	s.detector.Clear()
	if !snap.CreatedAt.IsZero() && snap.SessionID == s.id {
		s.createdAt = snap.CreatedAt
	}
	s.logger.Info("session restored",
		"from", snap.SessionID,
		"messages", len(snap.Messages),
		"turns", snap.TurnCount,
	)
	return nil
}

// Clear drops the conversation history, usage and loop history, and
// re-renders the system prompt so it lists tools registered since the
// session started. The identifier and turn counter are kept.
func (s *Session) Clear() {
	s.store.SetSystemPrompt(systemPrompt(s.cfg, s.cwd, s.registry))
	s.store.Clear()
	s.detector.Clear()
}

// Stats summarizes the session.
func (s *Session) Stats() Stats {
	snap := s.Snapshot()
	return Stats{
		SessionID:  s.id,
		Model:      s.loop.Model(),
		Policy:     s.approvals.Policy(),
		Cwd:        s.cwd,
		Turns:      snap.TurnCount,
		Messages:   len(snap.Messages),
		Tools:      s.registry.Len(),
		Usage:      snap.Usage,
		CreatedAt:  s.createdAt,
		UpdatedAt:  snap.UpdatedAt,
		MCPServers: s.mcp.Servers(),
	}
}

// Shutdown closes the completion client and MCP connections. Only the
// first call does anything.
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			var err error
			if mErr := s.mcp.Shutdown(); mErr != nil {
				err = fmt.Errorf("shutdown mcp: %w", mErr)
			}
			if cErr := s.client.Close(); cErr != nil && err == nil {
				err = fmt.Errorf("close completion client: %w", cErr)
			}
			done <- err
		}()
		select {
		case s.shutdownErr = <-done:
		case <-ctx.Done():
			s.shutdownErr = ctx.Err()
		}
		s.logger.Debug("session shut down", "error", s.shutdownErr)
	})
	return s.shutdownErr
}
