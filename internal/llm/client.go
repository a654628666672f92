package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Client streams completions from a provider.
type Client interface {
	// Stream sends req and delivers events to cb until the model
	// finishes, cb returns an error, or ctx is cancelled. Transport
	// retries happen inside Stream; a returned error means they were
	// exhausted or the stream broke after it started.
	Stream(ctx context.Context, req *Request, cb StreamCallback) error

	// Close releases idle connections.
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "openai" (any OpenAI-compatible endpoint, including
	// Ollama's /v1) or "anthropic".
	Provider string
	BaseURL  string
	APIKey   string
	Retry    RetryPolicy
	// Timeout bounds the wait for response headers.
	Timeout time.Duration
}

// New creates the client for cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIClient(cfg, logger), nil
	case "anthropic":
		return NewAnthropicClient(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}

// BaseURL returns the endpoint root used for provider, falling back to
// the provider's public API when baseURL is empty.
func BaseURL(provider, baseURL string) string {
	if base := strings.TrimRight(baseURL, "/"); base != "" {
		return base
	}
	if strings.EqualFold(provider, "anthropic") {
		return defaultAnthropicBaseURL
	}
	return defaultOpenAIBaseURL
}
