package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PranavPipariya/Godel/internal/buildinfo"
)

const protocolVersion = "2024-11-05"

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is one item of a tools/call result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is the outcome of tools/call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text joins the content blocks. Non-text blocks become markers such
// as "[image]".
func (r *CallResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		if b.Type == "text" {
			parts = append(parts, b.Text)
			continue
		}
		parts = append(parts, "["+b.Type+"]")
	}
	return strings.Join(parts, "\n")
}

type toolsListResult struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

// Client speaks MCP to a single server.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	mu         sync.RWMutex
	serverName string
	serverVer  string
}

// NewClient creates a client for the named server over transport.
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("mcp_server", name),
	}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// ServerInfo returns the name and version the server reported during
// Initialize.
func (c *Client) ServerInfo() (name, version string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, c.serverVer
}

// Initialize performs the handshake: initialize, then the
// notifications/initialized notification.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "godel",
			"version": buildinfo.Version,
		},
	}
	resp, err := c.send(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	result, err := decodeResult[initializeResult](resp)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	c.mu.Lock()
	c.serverName = result.ServerInfo.Name
	c.serverVer = result.ServerInfo.Version
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// ListTools returns every tool the server offers, following
// pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var all []ToolDefinition
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		resp, err := c.send(ctx, "tools/list", params)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		page, err := decodeResult[toolsListResult](resp)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}
	c.logger.Info("discovered MCP tools", "count", len(all))
	return all, nil
}

// CallTool invokes a tool. A result with isError set is returned as-is;
// only protocol and transport failures produce an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.send(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	result, err := decodeResult[CallResult](resp)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return &result, nil
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping", nil)
	return err
}

// Close shuts down the transport.
func (c *Client) Close() error {
	c.logger.Debug("closing MCP client")
	return c.transport.Close()
}

func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	resp, err := c.transport.Send(ctx, NewRequest(c.nextID.Add(1), method, params))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}
