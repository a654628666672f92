package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/PranavPipariya/Godel/internal/tools"
)

// Tool exposes a Fetcher as the web_fetch tool.
type Tool struct {
	fetcher *Fetcher
}

// NewTool wraps f.
func NewTool(f *Fetcher) *Tool { return &Tool{fetcher: f} }

func (t *Tool) Name() string                   { return "web_fetch" }
func (t *Tool) Kind() tools.Kind               { return tools.KindNetwork }
func (t *Tool) IsMutating(map[string]any) bool { return false }

func (t *Tool) Description() string {
	return "Fetch a web page and return its readable text, title and links. Use for documentation, issues and articles."
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch. https:// is assumed when no scheme is given.",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum characters of content to return. Default: %d.", DefaultMaxChars),
			},
		},
		"required": []string{"url"},
	}
}

func (t *Tool) Execute(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
	rawURL, _ := inv.Args["url"].(string)
	if rawURL == "" {
		return tools.Failure("url is required"), nil
	}
	maxChars := 0
	if mc, ok := inv.Args["max_chars"].(float64); ok {
		maxChars = int(mc)
	}

	res, err := t.fetcher.Fetch(ctx, rawURL, maxChars)
	if err != nil {
		return tools.Failure("%v", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", res.URL)
	if res.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", res.Title)
	}
	b.WriteString("\n")
	b.WriteString(res.Content)
	if len(res.Links) > 0 {
		b.WriteString("\n\nLinks:\n")
		for _, l := range res.Links {
			b.WriteString("- " + l + "\n")
		}
	}

	out := tools.Success(strings.TrimRight(b.String(), "\n"))
	out.Truncated = res.Truncated
	out.Metadata = map[string]any{"status_code": res.StatusCode, "content_type": res.ContentType}
	return out, nil
}
