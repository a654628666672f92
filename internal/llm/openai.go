package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PranavPipariya/Godel/internal/conversation"
	"github.com/PranavPipariya/Godel/internal/httpkit"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible /chat/completions
// endpoint with server-sent-event streaming.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	retry      RetryPolicy
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates an OpenAI-compatible client.
func NewOpenAIClient(cfg Config, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := BaseURL("openai", cfg.BaseURL)
	t := httpkit.NewTransport()
	// Long prompts can take a while before the first header arrives.
	t.ResponseHeaderTimeout = 120 * time.Second
	if cfg.Timeout > 0 {
		t.ResponseHeaderTimeout = cfg.Timeout
	}
	return &OpenAIClient{
		baseURL: base,
		apiKey:  cfg.APIKey,
		retry:   cfg.Retry,
		logger:  logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			// Streams are long-lived; ctx controls their lifetime.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

type openaiRequest struct {
	Model         string          `json:"model"`
	Messages      []openaiMessage `json:"messages"`
	Tools         []openaiTool    `json:"tools,omitempty"`
	Stream        bool            `json:"stream"`
	StreamOptions *streamOptions  `json:"stream_options,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type openaiUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

func (u *openaiUsage) toUsage() conversation.TokenUsage {
	if u == nil {
		return conversation.TokenUsage{}
	}
	out := conversation.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if u.PromptTokensDetails != nil {
		out.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, cb StreamCallback) error {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Debug("sending request",
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	onRetry := func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("completion request failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	return withRetry(ctx, c.retry, onRetry, func() (bool, error) {
		return c.streamOnce(ctx, body, cb)
	})
}

func (c *OpenAIClient) streamOnce(ctx context.Context, body []byte, cb StreamCallback) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return false, &APIError{Provider: "openai", StatusCode: resp.StatusCode, Body: errBody}
	}

	return c.readStream(ctx, resp.Body, cb)
}

// readStream parses the SSE body. started reports whether any event
// reached cb.
func (c *OpenAIClient) readStream(ctx context.Context, body io.Reader, cb StreamCallback) (started bool, err error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		ids          = map[int]string{}
		finishReason string
		usage        conversation.TokenUsage
		sawDone      bool
	)
	emit := func(ev StreamEvent) error {
		started = true
		return cb(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			sawDone = true
			break
		}

		var chunk openaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping malformed chunk", "error", err)
			continue
		}
		if chunk.Error != nil {
			return started, fmt.Errorf("stream error: %s", chunk.Error.Message)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.toUsage()
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if err := emit(StreamEvent{Kind: EventTextDelta, Text: choice.Delta.Content}); err != nil {
					return started, err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				// Without an index a fragment continues the latest call
				// unless it carries a new id.
				idx := len(ids) - 1
				if tc.Index != nil {
					idx = *tc.Index
				}
				id := ids[idx]
				if tc.ID != "" && tc.ID != id {
					if tc.Index == nil && (id != "" || idx < 0) {
						idx = len(ids)
					}
					id = tc.ID
					ids[idx] = id
				}
				if id == "" {
					idx = max(idx, 0)
					id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
					ids[idx] = id
				}
				delta := &ToolCallDelta{
					Index:     idx,
					ID:        id,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}
				if err := emit(StreamEvent{Kind: EventToolCallDelta, ToolCall: delta}); err != nil {
					return started, err
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishReason = *choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return started, fmt.Errorf("read stream: %w", err)
	}
	if !sawDone && finishReason == "" {
		if err := ctx.Err(); err != nil {
			return started, err
		}
		return started, fmt.Errorf("read stream: %w", io.ErrUnexpectedEOF)
	}

	c.logger.Debug("stream complete",
		"finish_reason", finishReason,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"tool_calls", len(ids),
	)
	return started, emit(StreamEvent{Kind: EventDone, FinishReason: finishReason, Usage: usage})
}

func (c *OpenAIClient) buildRequest(req *Request) openaiRequest {
	out := openaiRequest{
		Model:         req.Model,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, toOpenAIMessage(m))
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, openaiTool{
			Type:     "function",
			Function: openaiFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	return out
}

func toOpenAIMessage(m conversation.Message) openaiMessage {
	om := openaiMessage{Role: string(m.Role), ToolCallID: m.ToolCallID}
	// Assistant messages that only carry tool calls send null content.
	if m.Content != "" || m.Role != conversation.RoleAssistant || len(m.ToolCalls) == 0 {
		content := m.Content
		om.Content = &content
	}
	for _, tc := range m.ToolCalls {
		var call openaiToolCall
		call.ID = tc.ID
		call.Type = "function"
		call.Function.Name = tc.Name
		call.Function.Arguments = tc.Arguments
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		om.ToolCalls = append(om.ToolCalls, call)
	}
	return om
}

// Close implements Client.
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
