package search

import (
	"context"
	"fmt"

	"github.com/PranavPipariya/Godel/internal/tools"
)

// Tool exposes a Manager as the web_search tool.
type Tool struct {
	mgr *Manager
}

// NewTool wraps mgr.
func NewTool(mgr *Manager) *Tool { return &Tool{mgr: mgr} }

func (t *Tool) Name() string                   { return "web_search" }
func (t *Tool) Kind() tools.Kind               { return tools.KindNetwork }
func (t *Tool) IsMutating(map[string]any) bool { return false }

func (t *Tool) Description() string {
	return "Search the web and return titles, URLs and snippets. Follow up with web_fetch to read a result."
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query string.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum number of results to return (1-%d). Default: %d.", MaxCount, DefaultCount),
			},
			"language": map[string]any{
				"type":        "string",
				"description": "ISO 639-1 language code for results (e.g., 'en', 'de').",
			},
			"provider": map[string]any{
				"type":        "string",
				"description": "Search provider to use. Omit for default.",
				"enum":        t.mgr.Providers(),
			},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) Execute(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
	query, _ := inv.Args["query"].(string)
	if query == "" {
		return tools.Failure("query is required"), nil
	}

	var opts Options
	if count, ok := inv.Args["count"].(float64); ok && count > 0 {
		opts.Count = int(count)
	}
	if lang, ok := inv.Args["language"].(string); ok {
		opts.Language = lang
	}

	provider, _ := inv.Args["provider"].(string)
	if provider == "" {
		provider = t.mgr.Primary()
	}
	results, err := t.mgr.SearchWith(ctx, provider, query, opts)
	if err != nil {
		return tools.Failure("%v", err), nil
	}

	out := tools.Success(FormatResults(results))
	out.Metadata = map[string]any{"provider": provider, "count": len(results)}
	return out, nil
}
