// Package httpkit builds the HTTP clients used for every outbound call:
// the completion API, MCP servers over HTTP, web fetches and GitHub.
// Clients share transport defaults, a User-Agent, and optional retry on
// connection-level failures.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/PranavPipariya/Godel/internal/buildinfo"
)

// Transport defaults.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	userAgent  string
	headers    map[string]string
	transport  *http.Transport
	retryCount int
	retryDelay time.Duration
	logger     *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it, which
// streaming callers need; they rely on context cancellation instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithHeader adds a header to every request that does not already set it.
func WithHeader(key, value string) ClientOption {
	return func(c *clientConfig) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[key] = value
	}
}

// WithTransport overrides the default transport.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// WithRetry retries requests that fail to connect (host or network
// unreachable, connection refused). These failures happen before any
// byte reaches the server. Requests with a body are retried only when
// the body can be rewound.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryCount = count
		c.retryDelay = delay
	}
}

// WithLogger sets a logger for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewTransport creates an http.Transport with the package defaults.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client with the shared defaults.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:   30 * time.Second,
		userAgent: buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	t := cfg.transport
	if t == nil {
		t = NewTransport()
	}

	headers := map[string]string{"User-Agent": cfg.userAgent}
	for k, v := range cfg.headers {
		headers[k] = v
	}
	var rt http.RoundTripper = &headerTransport{base: t, headers: headers}

	if cfg.retryCount > 0 {
		rt = &retryTransport{
			base:   rt,
			count:  cfg.retryCount,
			delay:  cfg.retryDelay,
			logger: cfg.logger,
		}
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}
}

// headerTransport sets default headers on requests that lack them.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := false
	for k, v := range t.headers {
		if v == "" || req.Header.Get(k) != "" {
			continue
		}
		if !cloned {
			// RoundTrippers must not mutate the caller's request.
			req = req.Clone(req.Context())
			cloned = true
		}
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// DrainAndClose reads up to limit bytes from rc and closes it so the
// connection returns to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

type retryTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || !IsConnectError(err) {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, err
	}

	for attempt := 1; attempt <= t.count; attempt++ {
		if t.logger != nil {
			t.logger.Debug("retrying request after connect error",
				"method", req.Method,
				"url", req.URL.Redacted(),
				"attempt", attempt,
				"max_retries", t.count,
				"error", err,
			)
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		retryReq := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", bodyErr)
			}
			retryReq.Body = body
		}

		resp, err = t.base.RoundTrip(retryReq)
		if err == nil || !IsConnectError(err) {
			return resp, err
		}
	}

	return resp, err
}

// IsConnectError reports whether err is a connection-level failure that
// happened before the request reached the server. ECONNRESET is not
// included: the server may already have processed the request.
func IsConnectError(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
			return true
		}
	}
	return false
}

// ReadErrorBody reads up to limit bytes from rc for an error message and
// then drains and closes it. Returns "" if rc is nil.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
