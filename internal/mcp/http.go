package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PranavPipariya/Godel/internal/httpkit"
)

const sessionHeader = "Mcp-Session-Id"

// Connection failures are retried before any byte reaches the server.
const (
	connectRetries    = 2
	connectRetryDelay = 500 * time.Millisecond
)

// HTTPConfig describes an MCP server reached over streamable HTTP.
type HTTPConfig struct {
	URL string
	// Headers are sent with every request, e.g. Authorization.
	Headers map[string]string
	Logger  *slog.Logger
}

// HTTPTransport posts each JSON-RPC message to the server URL. The
// reply is either a JSON body or a short event stream carrying it.
type HTTPTransport struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := []httpkit.ClientOption{
		httpkit.WithRetry(connectRetries, connectRetryDelay),
		httpkit.WithLogger(logger),
	}
	for k, v := range cfg.Headers {
		opts = append(opts, httpkit.WithHeader(k, v))
	}
	return &HTTPTransport{
		url:        cfg.URL,
		httpClient: httpkit.NewClient(opts...),
		logger:     logger,
	}
}

func (t *HTTPTransport) post(ctx context.Context, msg any) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.mu.RLock()
	if t.sessionID != "" {
		req.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.RUnlock()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s: %w", t.url, err)
	}
	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return resp, nil
}

// Send posts req and returns the matching response.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	httpResp, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MCP server returned %d: %s",
			httpResp.StatusCode, httpkit.ReadErrorBody(httpResp.Body, 4096))
	}

	body := io.LimitReader(httpResp.Body, 10<<20)
	mediaType, _, _ := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return readEventStream(body, req.ID)
	}

	var resp Response
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// readEventStream scans SSE data lines for the response to id.
func readEventStream(r io.Reader, id int64) (*Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(strings.TrimSpace(line[len("data:"):])), &resp); err != nil {
			continue
		}
		if resp.ID == id && (resp.Result != nil || resp.Error != nil) {
			return &resp, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return nil, fmt.Errorf("event stream ended without response to request %d", id)
}

// Notify posts a notification. 200 and 202 are both accepted.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	httpResp, err := t.post(ctx, notif)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("MCP server returned %d for notification: %s",
			httpResp.StatusCode, httpkit.ReadErrorBody(httpResp.Body, 4096))
	}
	return nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}
