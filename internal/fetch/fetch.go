// Package fetch downloads web pages and reduces them to readable text
// for the web_fetch tool.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PranavPipariya/Godel/internal/httpkit"
)

// Defaults for a Fetcher.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxBytes int64 = 5 << 20
	DefaultMaxChars       = 50000
)

// Result is the extracted content of one URL.
type Result struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Content     string   `json:"content"`
	Links       []string `json:"links,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	StatusCode  int      `json:"status_code"`
	Truncated   bool     `json:"truncated,omitempty"`
}

// Fetcher downloads and extracts readable content.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithMaxBytes limits how much of a response body is read. Values below
// one keep DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{maxBytes: DefaultMaxBytes, logger: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	if f.client == nil {
		f.client = httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
			httpkit.WithRetry(2, 250*time.Millisecond),
			httpkit.WithLogger(f.logger),
		)
	}
	return f
}

// NormalizeURL adds an https scheme when none is given and rejects
// anything that is not http or https.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u.String(), nil
}

// Fetch downloads rawURL and extracts its text. maxChars <= 0 uses
// DefaultMaxChars. HTTP error statuses are returned as errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d: %s", target, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	out := &Result{URL: resp.Request.URL.String(), ContentType: contentType, StatusCode: resp.StatusCode}

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page := extractHTML(string(body), resp.Request.URL)
		out.Title, out.Content, out.Links = page.title, page.text, page.links
	case strings.HasPrefix(mediaType, "text/") || utf8.Valid(body):
		out.Content = string(body)
	default:
		out.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
	}

	if utf8.RuneCountInString(out.Content) > maxChars {
		out.Content = truncateRunes(out.Content, maxChars)
		out.Truncated = true
	}

	f.logger.Debug("fetched page",
		"url", out.URL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"chars", len(out.Content),
		"elapsed", time.Since(start),
	)
	return out, nil
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
