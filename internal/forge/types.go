// Package forge gives the agent read and write access to GitHub: issue
// analysis, pull request creation and code search.
package forge

import "time"

// Issue is a single issue.
type Issue struct {
	Number       int
	Title        string
	Body         string
	State        string
	Labels       []string
	Author       string
	URL          string
	CommentCount int
	CreatedAt    time.Time
	IsPR         bool
}

// Comment is a comment on an issue or pull request.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// PullRequest is a created or fetched pull request.
type PullRequest struct {
	Number int
	Title  string
	URL    string
	Head   string
	Base   string
	Draft  bool
}

// CodeResult is one hit of a code search.
type CodeResult struct {
	Name      string
	Path      string
	Repo      string
	URL       string
	Fragments []string
}
