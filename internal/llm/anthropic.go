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

	"github.com/PranavPipariya/Godel/internal/conversation"
	"github.com/PranavPipariya/Godel/internal/httpkit"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	retry      RetryPolicy
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg Config, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := BaseURL("anthropic", cfg.BaseURL)
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second
	if cfg.Timeout > 0 {
		t.ResponseHeaderTimeout = cfg.Timeout
	}
	return &AnthropicClient{
		baseURL: base,
		apiKey:  cfg.APIKey,
		retry:   cfg.Retry,
		logger:  logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"` // for tool_result
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens"`
}

type anthropicStreamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	ContentBlock *anthropicContent `json:"content_block,omitempty"`
	Delta        *anthropicDelta   `json:"delta,omitempty"`
	Message      *struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request, cb StreamCallback) error {
	msgs, system := convertToAnthropic(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		Messages:    msgs,
		System:      system,
		MaxTokens:   maxTokens,
		Stream:      true,
		Tools:       convertToolsToAnthropic(req.Tools),
		Temperature: req.Temperature,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(msgs),
		"tools", len(req.Tools),
		"system_len", len(system),
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	onRetry := func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("messages request failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	return withRetry(ctx, c.retry, onRetry, func() (bool, error) {
		return c.streamOnce(ctx, body, cb)
	})
}

func (c *AnthropicClient) streamOnce(ctx context.Context, body []byte, cb StreamCallback) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return false, &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: errBody}
	}
	return c.readStream(ctx, resp.Body, cb)
}

func (c *AnthropicClient) readStream(ctx context.Context, body io.Reader, cb StreamCallback) (started bool, err error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		// content block index -> tool call position
		toolIndex  = map[int]int{}
		toolIDs    = map[int]string{}
		stopReason string
		usage      anthropicUsage
		model      string
		stopped    bool
	)
	emit := func(ev StreamEvent) error {
		started = true
		return cb(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		// SSE format: "event: <type>" followed by "data: <json>"
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				model = event.Message.Model
				usage = event.Message.Usage
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				pos := len(toolIndex)
				toolIndex[event.Index] = pos
				toolIDs[pos] = event.ContentBlock.ID
				delta := &ToolCallDelta{Index: pos, ID: event.ContentBlock.ID, Name: event.ContentBlock.Name}
				if err := emit(StreamEvent{Kind: EventToolCallDelta, ToolCall: delta}); err != nil {
					return started, err
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text == "" {
					continue
				}
				if err := emit(StreamEvent{Kind: EventTextDelta, Text: event.Delta.Text}); err != nil {
					return started, err
				}
			case "input_json_delta":
				pos, ok := toolIndex[event.Index]
				if !ok || event.Delta.PartialJSON == "" {
					continue
				}
				delta := &ToolCallDelta{Index: pos, ID: toolIDs[pos], Arguments: event.Delta.PartialJSON}
				if err := emit(StreamEvent{Kind: EventToolCallDelta, ToolCall: delta}); err != nil {
					return started, err
				}
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			stopped = true

		case "error":
			msg := "unknown error"
			if event.Error != nil {
				msg = event.Error.Type + ": " + event.Error.Message
			}
			return started, fmt.Errorf("stream error: %s", msg)
		}
		if stopped {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return started, fmt.Errorf("read stream: %w", err)
	}
	if !stopped {
		if err := ctx.Err(); err != nil {
			return started, err
		}
		return started, fmt.Errorf("read stream: %w", io.ErrUnexpectedEOF)
	}

	total := conversation.TokenUsage{
		PromptTokens:     usage.InputTokens,
		CompletionTokens: usage.OutputTokens,
		TotalTokens:      usage.InputTokens + usage.OutputTokens,
		CachedTokens:     usage.CacheReadInputTokens,
	}
	c.logger.Debug("stream complete",
		"model", model,
		"stop_reason", stopReason,
		"input_tokens", total.PromptTokens,
		"output_tokens", total.CompletionTokens,
		"tool_calls", len(toolIndex),
	)
	return started, emit(StreamEvent{Kind: EventDone, FinishReason: stopReason, Usage: total})
}

// convertToAnthropic converts conversation messages to Anthropic format.
// System messages become the separate system prompt, and consecutive
// tool results are merged into one user message.
func convertToAnthropic(messages []conversation.Message) ([]anthropicMessage, string) {
	var systemParts []string
	var result []anthropicMessage

	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case conversation.RoleAssistant:
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						args = map[string]any{"raw_arguments": tc.Arguments}
					}
				}
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: args,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropicMessage{Role: "assistant", Content: blocks})

		case conversation.RoleTool:
			block := anthropicContent{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			if n := len(result); n > 0 && result[n-1].Role == "user" && isToolResults(result[n-1].Content) {
				result[n-1].Content = append(result[n-1].Content, block)
				continue
			}
			result = append(result, anthropicMessage{Role: "user", Content: []anthropicContent{block}})

		default:
			result = append(result, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})
		}
	}
	return result, strings.Join(systemParts, "\n\n")
}

func isToolResults(blocks []anthropicContent) bool {
	for _, b := range blocks {
		if b.Type != "tool_result" {
			return false
		}
	}
	return len(blocks) > 0
}

func convertToolsToAnthropic(tools []ToolDef) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		schema := any(t.Parameters)
		if t.Parameters == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

// Close implements Client.
func (c *AnthropicClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
