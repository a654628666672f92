// Package search provides a pluggable web search interface for the agent.
//
// Each search backend implements the [Provider] interface and is
// registered by name. The [Manager] routes queries to the primary
// provider unless the caller names another one.
package search

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DefaultCount is the number of results returned when a query does not
// ask for a specific count.
const DefaultCount = 5

// MaxCount caps the results requested from any provider.
const MaxCount = 10

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return. Providers may
	// return fewer. Zero means DefaultCount.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

func (o Options) count() int {
	switch {
	case o.Count <= 0:
		return DefaultCount
	case o.Count > MaxCount:
		return MaxCount
	}
	return o.Count
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "brave").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Primary returns the name of the default provider.
func (m *Manager) Primary() string { return m.primary }

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	opts.Count = opts.count()
	results, err := p.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if len(results) > opts.Count {
		results = results[:opts.Count]
	}
	return results, nil
}

// Providers returns the names of all registered providers, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Configured reports whether the primary provider is registered.
func (m *Manager) Configured() bool {
	_, ok := m.providers[m.primary]
	return ok
}

// FormatResults builds a numbered, human-readable result list.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var buf []byte
	for i, r := range results {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, strconv.Itoa(i+1)...)
		buf = append(buf, ". "...)
		buf = append(buf, r.Title...)
		buf = append(buf, '\n')
		buf = append(buf, "   "...)
		buf = append(buf, r.URL...)
		if r.Snippet != "" {
			buf = append(buf, '\n')
			buf = append(buf, "   "...)
			buf = append(buf, r.Snippet...)
		}
	}
	return string(buf)
}
