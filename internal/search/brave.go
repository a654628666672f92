package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PranavPipariya/Godel/internal/httpkit"
)

// DefaultBraveURL is the Brave Search API root.
const DefaultBraveURL = "https://api.search.brave.com"

// BraveConfig holds configuration for the Brave Search provider.
type BraveConfig struct {
	APIKey string
	// BaseURL overrides DefaultBraveURL.
	BaseURL string
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool {
	return c.APIKey != ""
}

// Brave implements the Provider interface for the Brave Search API.
type Brave struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewBrave creates a Brave Search provider. A nil client gets the
// shared httpkit defaults.
func NewBrave(cfg BraveConfig, client *http.Client) *Brave {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(15 * time.Second))
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBraveURL
	}
	return &Brave{apiKey: cfg.APIKey, baseURL: base, httpClient: client}
}

func (b *Brave) Name() string { return "brave" }

// braveResponse is the JSON response from Brave's web search API.
type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(opts.count())},
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	reqURL := b.baseURL + "/res/v1/web/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64<<10)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("brave: decode response: %w", err)
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
		})
	}
	return results, nil
}
