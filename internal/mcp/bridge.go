package mcp

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/stoewer/go-strcase"

	"github.com/PranavPipariya/Godel/internal/tools"
)

var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

// ToolName namespaces an MCP tool as mcp_<server>_<tool>. Both parts
// are snake-cased and reduced to [a-z0-9_].
func ToolName(serverName, mcpToolName string) string {
	return "mcp_" + sanitize(serverName) + "_" + sanitize(mcpToolName)
}

func sanitize(name string) string {
	s := sanitizeRe.ReplaceAllString(strcase.SnakeCase(name), "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// caller is the part of Client a bridged tool needs.
type caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
}

// remoteTool proxies calls to an MCP server. Remote effects are
// unknown, so every call counts as mutating.
type remoteTool struct {
	name    string
	mcpName string
	server  string
	def     ToolDefinition
	client  caller
}

func newRemoteTool(server string, client caller, td ToolDefinition) *remoteTool {
	return &remoteTool{
		name:    ToolName(server, td.Name),
		mcpName: td.Name,
		server:  server,
		def:     td,
		client:  client,
	}
}

func (t *remoteTool) Name() string                   { return t.name }
func (t *remoteTool) Kind() tools.Kind               { return tools.KindMCP }
func (t *remoteTool) IsMutating(map[string]any) bool { return true }

func (t *remoteTool) Description() string {
	if t.def.Description == "" {
		return fmt.Sprintf("%s (from MCP server %s)", t.mcpName, t.server)
	}
	return fmt.Sprintf("%s (from MCP server %s)", t.def.Description, t.server)
}

func (t *remoteTool) Schema() map[string]any {
	if t.def.InputSchema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.def.InputSchema
}

func (t *remoteTool) Execute(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
	res, err := t.client.CallTool(ctx, t.mcpName, inv.Args)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return tools.Failure("%s", res.Text()), nil
	}
	out := tools.Success(res.Text())
	out.Metadata = map[string]any{"mcp_server": t.server, "mcp_tool": t.mcpName}
	return out, nil
}

// filterTools applies include/exclude lists by MCP tool name. A
// non-empty include list wins over exclude.
func filterTools(defs []ToolDefinition, include, exclude []string) []ToolDefinition {
	inc, exc := toSet(include), toSet(exclude)
	out := make([]ToolDefinition, 0, len(defs))
	for _, td := range defs {
		if len(inc) > 0 {
			if !inc[td.Name] {
				continue
			}
		} else if exc[td.Name] {
			continue
		}
		out = append(out, td)
	}
	return out
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
