package tools

import (
	"context"

	"github.com/PranavPipariya/Godel/internal/forge"
)

// RegisterForgeTools adds the GitHub issue, pull request and code
// search tools backed by ft.
func RegisterForgeTools(r *Registry, ft *forge.Tools) {
	if ft == nil {
		return
	}
	tokenProp := map[string]any{"type": "string", "description": "GitHub token (defaults to configured token or GITHUB_TOKEN)"}

	r.Register(&FuncTool{
		ToolName: "analyze_github_issue",
		Desc:     "Fetch and analyze a GitHub issue. Returns issue details including title, description, status, labels, and recent comments.",
		ToolKind: KindNetwork,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo":         map[string]any{"type": "string", "description": "Repository in owner/repo format"},
				"issue_number": map[string]any{"type": "integer", "description": "Issue number"},
				"token":        tokenProp,
			},
			"required": []string{"repo", "issue_number"},
		},
		Handler: forgeHandler(ft.HandleAnalyzeIssue),
	})

	r.Register(&FuncTool{
		ToolName: "create_pull_request",
		Desc:     "Create a GitHub pull request with title, description, and branch information.",
		ToolKind: KindNetwork,
		Mutating: true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo":  map[string]any{"type": "string", "description": "Repository in owner/repo format"},
				"title": map[string]any{"type": "string", "description": "Pull request title"},
				"body":  map[string]any{"type": "string", "description": "Pull request description"},
				"head":  map[string]any{"type": "string", "description": "Source branch name"},
				"base":  map[string]any{"type": "string", "description": "Target branch (default: main)"},
				"draft": map[string]any{"type": "boolean", "description": "Open as a draft"},
				"token": tokenProp,
			},
			"required": []string{"repo", "title", "head"},
		},
		Handler: forgeHandler(ft.HandleCreatePullRequest),
	})

	r.Register(&FuncTool{
		ToolName: "search_github_code",
		Desc:     "Search for code in GitHub repositories. Useful for finding similar code patterns, function definitions, and usage examples.",
		ToolKind: KindNetwork,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Search query"},
				"repo":        map[string]any{"type": "string", "description": "Limit to a repository (owner/repo)"},
				"language":    map[string]any{"type": "string", "description": "Filter by programming language"},
				"max_results": map[string]any{"type": "integer", "description": "Maximum results to return (default: 10)"},
				"token":       tokenProp,
			},
			"required": []string{"query"},
		},
		Handler: forgeHandler(ft.HandleSearchCode),
	})
}

func forgeHandler(h func(context.Context, map[string]any) (*forge.Output, error)) func(context.Context, Invocation) (*Result, error) {
	return func(ctx context.Context, inv Invocation) (*Result, error) {
		out, err := h(ctx, inv.Args)
		if err != nil {
			return Failure("%v", err), nil
		}
		res := Success(out.Text)
		res.Metadata = out.Metadata
		return res, nil
	}
}
