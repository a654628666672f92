package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// TokenEnv is consulted when neither the call nor the config carries a
// token.
const TokenEnv = "GITHUB_TOKEN"

const (
	recentComments   = 3
	commentPreview   = 200
	defaultSearchMax = 10
	defaultBaseRef   = "main"
)

// Output is what a handler produces for the model.
type Output struct {
	Text     string
	Metadata map[string]any
}

// Opener creates a Provider authenticated with token.
type Opener func(token string) (Provider, error)

// Tools implements the GitHub tool handlers. Each Handle* method takes
// the decoded argument map of a tool call.
type Tools struct {
	cfg    Config
	open   Opener
	getenv func(string) string
	logger *slog.Logger
}

// NewTools creates handlers that talk to GitHub through httpClient.
// A nil httpClient uses http.DefaultClient.
func NewTools(cfg Config, httpClient *http.Client, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	open := func(token string) (Provider, error) {
		return NewGitHub(httpClient, token, cfg.BaseURL, logger)
	}
	return NewToolsWithOpener(cfg, open, logger)
}

// NewToolsWithOpener creates handlers backed by a custom provider
// factory.
func NewToolsWithOpener(cfg Config, open Opener, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{cfg: cfg, open: open, getenv: os.Getenv, logger: logger}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(strings.TrimPrefix(v, "#"))
		return n
	}
	return 0
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// token picks the call's token, then the configured one, then the
// environment.
func (t *Tools) token(args map[string]any) string {
	if tok := stringArg(args, "token"); tok != "" {
		return tok
	}
	if t.cfg.Configured() {
		return t.cfg.Token
	}
	return t.getenv(TokenEnv)
}

func (t *Tools) provider(args map[string]any) (Provider, error) {
	tok := t.token(args)
	if tok == "" {
		return nil, fmt.Errorf("GitHub token required: set github.token, the %s environment variable, or pass token", TokenEnv)
	}
	return t.open(tok)
}

// HandleAnalyzeIssue fetches an issue with its most recent comments.
func (t *Tools) HandleAnalyzeIssue(ctx context.Context, args map[string]any) (*Output, error) {
	repo, err := t.cfg.ResolveRepo(stringArg(args, "repo"))
	if err != nil {
		return nil, err
	}
	number := intArg(args, "issue_number")
	if number <= 0 {
		return nil, fmt.Errorf("issue_number is required")
	}
	p, err := t.provider(args)
	if err != nil {
		return nil, err
	}

	issue, err := p.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	kind := "Issue"
	if issue.IsPR {
		kind = "Pull Request"
	}
	fmt.Fprintf(&sb, "# %s #%d: %s\n\n", kind, issue.Number, issue.Title)
	fmt.Fprintf(&sb, "**Status:** %s\n", issue.State)
	fmt.Fprintf(&sb, "**Author:** %s\n", issue.Author)
	labels := "None"
	if len(issue.Labels) > 0 {
		labels = strings.Join(issue.Labels, ", ")
	}
	fmt.Fprintf(&sb, "**Labels:** %s\n\n", labels)

	sb.WriteString("## Description\n")
	if issue.Body != "" {
		sb.WriteString(issue.Body)
	} else {
		sb.WriteString("No description")
	}
	fmt.Fprintf(&sb, "\n\n## Comments (%d total)\n", issue.CommentCount)

	if issue.CommentCount > 0 {
		comments, err := p.ListComments(ctx, repo, number, recentComments)
		if err != nil {
			t.logger.Warn("failed to list issue comments", "repo", repo, "number", number, "error", err)
		}
		for _, c := range comments {
			fmt.Fprintf(&sb, "\n**%s**: %s\n", c.Author, preview(c.Body, commentPreview))
		}
	}

	return &Output{
		Text:     sb.String(),
		Metadata: map[string]any{"url": issue.URL},
	}, nil
}

// HandleCreatePullRequest opens a pull request from head into base.
func (t *Tools) HandleCreatePullRequest(ctx context.Context, args map[string]any) (*Output, error) {
	repo, err := t.cfg.ResolveRepo(stringArg(args, "repo"))
	if err != nil {
		return nil, err
	}
	title := stringArg(args, "title")
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	head := stringArg(args, "head")
	if head == "" {
		return nil, fmt.Errorf("head is required")
	}
	base := stringArg(args, "base")
	if base == "" {
		base = defaultBaseRef
	}
	p, err := t.provider(args)
	if err != nil {
		return nil, err
	}

	pr, err := p.CreatePullRequest(ctx, repo, &NewPullRequest{
		Title: title,
		Body:  stringArg(args, "body"),
		Head:  head,
		Base:  base,
		Draft: boolArg(args, "draft"),
	})
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("Pull Request Created\n\n")
	fmt.Fprintf(&sb, "**#%d: %s**\n", pr.Number, pr.Title)
	fmt.Fprintf(&sb, "**URL:** %s\n", pr.URL)
	fmt.Fprintf(&sb, "**Branch:** %s → %s", head, base)
	if pr.Draft {
		sb.WriteString("\n**Draft:** yes")
	}
	return &Output{
		Text:     sb.String(),
		Metadata: map[string]any{"url": pr.URL, "pr_number": pr.Number},
	}, nil
}

// HandleSearchCode searches code, optionally scoped to a repo and
// language.
func (t *Tools) HandleSearchCode(ctx context.Context, args map[string]any) (*Output, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	q := query
	if repo := stringArg(args, "repo"); repo != "" {
		full, err := t.cfg.ResolveRepo(repo)
		if err != nil {
			return nil, err
		}
		q += " repo:" + full
	}
	if lang := stringArg(args, "language"); lang != "" {
		q += " language:" + lang
	}
	limit := intArg(args, "max_results")
	if limit <= 0 {
		limit = defaultSearchMax
	}
	p, err := t.provider(args)
	if err != nil {
		return nil, err
	}

	results, err := p.SearchCode(ctx, q, limit)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Search Results for: %s\n\n", query)
	if len(results) == 0 {
		sb.WriteString("No results.\n")
	}
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. **%s** in %s\n", i+1, r.Name, r.Repo)
		fmt.Fprintf(&sb, "   Path: %s\n", r.Path)
		fmt.Fprintf(&sb, "   URL: %s\n", r.URL)
		if len(r.Fragments) > 0 {
			fmt.Fprintf(&sb, "   Match: %s\n", preview(oneLine(r.Fragments[0]), commentPreview))
		}
		sb.WriteString("\n")
	}
	return &Output{
		Text:     sb.String(),
		Metadata: map[string]any{"query": q, "count": len(results)},
	}, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
