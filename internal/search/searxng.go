package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PranavPipariya/Godel/internal/httpkit"
)

// SearXNGConfig holds configuration for the SearXNG provider.
type SearXNGConfig struct {
	URL string
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool {
	return c.URL != ""
}

// SearXNG implements the Provider interface for a SearXNG instance.
type SearXNG struct {
	baseURL    string
	httpClient *http.Client
}

// NewSearXNG creates a SearXNG provider. The URL should be the root of
// the SearXNG instance (e.g., "http://localhost:8080").
func NewSearXNG(cfg SearXNGConfig, client *http.Client) *SearXNG {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(15 * time.Second))
	}
	return &SearXNG{baseURL: strings.TrimRight(cfg.URL, "/"), httpClient: client}
}

func (s *SearXNG) Name() string { return "searxng" }

// searxngResponse is the JSON response from SearXNG's /search endpoint.
type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	count := opts.count()

	reqURL := fmt.Sprintf("%s/search?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64<<10)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("searxng: decode response: %w", err)
	}

	results := make([]Result, 0, min(count, len(sr.Results)))
	for _, r := range sr.Results {
		if len(results) >= count {
			break
		}
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}
	return results, nil
}
