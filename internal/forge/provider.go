package forge

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the set of forge operations the tools use. Repo
// parameters are "owner/name".
type Provider interface {
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)
	// ListComments returns up to limit of the most recent comments,
	// oldest first.
	ListComments(ctx context.Context, repo string, number, limit int) ([]*Comment, error)
	CreatePullRequest(ctx context.Context, repo string, pr *NewPullRequest) (*PullRequest, error)
	SearchCode(ctx context.Context, query string, limit int) ([]*CodeResult, error)
}

// Config configures GitHub access.
type Config struct {
	Token string
	// BaseURL selects a GitHub Enterprise server; empty means github.com.
	BaseURL string
	// Owner is prepended to repo arguments that have no owner part.
	Owner string
}

// Configured reports whether a token is available.
func (c Config) Configured() bool { return c.Token != "" }

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return owner, name, nil
}

// ResolveRepo qualifies repo with the default owner when it has none.
func (c Config) ResolveRepo(repo string) (string, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return "", fmt.Errorf("repo is required")
	}
	if !strings.Contains(repo, "/") {
		if c.Owner == "" {
			return "", fmt.Errorf("repo %q has no owner and no default owner is configured", repo)
		}
		repo = c.Owner + "/" + repo
	}
	if _, _, err := splitRepo(repo); err != nil {
		return "", err
	}
	return repo, nil
}
