package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	gogithub "github.com/google/go-github/v69/github"
)

// rateLimitFloor is the remaining-request count below which a warning
// is logged.
const rateLimitFloor = 100

// GitHub implements Provider with the go-github SDK.
type GitHub struct {
	client *gogithub.Client
	logger *slog.Logger
}

// NewGitHub creates a GitHub provider. An empty baseURL targets
// api.github.com; otherwise it is treated as a GitHub Enterprise root.
func NewGitHub(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gogithub.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
	}
	return &GitHub{client: client, logger: logger.With("forge", "github")}, nil
}

func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	if resp.Rate.Remaining < rateLimitFloor {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// GetIssue implements Provider.
func (g *GitHub) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	issue, resp, err := g.client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("get issue %s#%d: %w", repo, number, err)
	}
	g.checkRateLimit(resp)
	return convertIssue(issue), nil
}

// ListComments implements Provider.
func (g *GitHub) ListComments(ctx context.Context, repo string, number, limit int) ([]*Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	opts := &gogithub.IssueListCommentsOptions{
		Sort:        gogithub.Ptr("created"),
		Direction:   gogithub.Ptr("desc"),
		ListOptions: gogithub.ListOptions{PerPage: min(limit, 100)},
	}
	comments, resp, err := g.client.Issues.ListComments(ctx, owner, name, number, opts)
	if err != nil {
		return nil, fmt.Errorf("list comments %s#%d: %w", repo, number, err)
	}
	g.checkRateLimit(resp)

	out := make([]*Comment, 0, len(comments))
	for _, c := range comments {
		out = append(out, &Comment{
			ID:        c.GetID(),
			Author:    c.GetUser().GetLogin(),
			Body:      c.GetBody(),
			CreatedAt: c.GetCreatedAt().Time,
		})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	slices.Reverse(out)
	return out, nil
}

// CreatePullRequest implements Provider.
func (g *GitHub) CreatePullRequest(ctx context.Context, repo string, pr *NewPullRequest) (*PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	req := &gogithub.NewPullRequest{
		Title: gogithub.Ptr(pr.Title),
		Head:  gogithub.Ptr(pr.Head),
		Base:  gogithub.Ptr(pr.Base),
		Body:  gogithub.Ptr(pr.Body),
		Draft: gogithub.Ptr(pr.Draft),
	}
	created, resp, err := g.client.PullRequests.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("create pull request in %s: %w", repo, err)
	}
	g.checkRateLimit(resp)
	g.logger.Info("pull request created", "repo", repo, "number", created.GetNumber())
	return &PullRequest{
		Number: created.GetNumber(),
		Title:  created.GetTitle(),
		URL:    created.GetHTMLURL(),
		Head:   created.GetHead().GetRef(),
		Base:   created.GetBase().GetRef(),
		Draft:  created.GetDraft(),
	}, nil
}

// SearchCode implements Provider.
func (g *GitHub) SearchCode(ctx context.Context, query string, limit int) ([]*CodeResult, error) {
	if limit <= 0 {
		limit = 10
	}
	opts := &gogithub.SearchOptions{
		TextMatch:   true,
		ListOptions: gogithub.ListOptions{PerPage: min(limit, 100)},
	}
	res, resp, err := g.client.Search.Code(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("search code: %w", err)
	}
	g.checkRateLimit(resp)

	var out []*CodeResult
	for _, item := range res.CodeResults {
		if len(out) == limit {
			break
		}
		r := &CodeResult{
			Name: item.GetName(),
			Path: item.GetPath(),
			Repo: item.GetRepository().GetFullName(),
			URL:  item.GetHTMLURL(),
		}
		for _, m := range item.TextMatches {
			if f := m.GetFragment(); f != "" {
				r.Fragments = append(r.Fragments, f)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func convertIssue(i *gogithub.Issue) *Issue {
	out := &Issue{
		Number:       i.GetNumber(),
		Title:        i.GetTitle(),
		Body:         i.GetBody(),
		State:        i.GetState(),
		Author:       i.GetUser().GetLogin(),
		URL:          i.GetHTMLURL(),
		CommentCount: i.GetComments(),
		CreatedAt:    i.GetCreatedAt().Time,
		IsPR:         i.IsPullRequest(),
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}
