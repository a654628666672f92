package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/PranavPipariya/Godel/internal/approval"
)

// Validate reports every problem in the configuration, not just the
// first. It expects ApplyDefaults to have run.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.Model.Provider) {
	case "openai", "anthropic":
	default:
		add("model.provider: unknown provider %q (want openai or anthropic)", c.Model.Provider)
	}
	if c.Model.Name == "" {
		add("model.name is required")
	}
	if t := c.Model.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("model.temperature: %v out of range [0, 2]", *t)
	}
	if c.Model.MaxTokens < 0 {
		add("model.max_tokens must not be negative")
	}
	if c.Model.Retry.MaxRetries < 0 {
		add("model.retry.max_retries must not be negative")
	}

	if _, err := approval.ParsePolicy(c.Approval.Policy); err != nil {
		add("approval.policy: %w", err)
	}
	if _, err := approval.ParsePathCheck(c.Approval.PathCheck); err != nil {
		add("approval.path_check: %w", err)
	}

	if c.MaxTurns < 0 {
		add("max_turns must not be negative")
	}
	if c.ToolTimeout < 0 {
		add("tool_timeout must not be negative")
	}
	ld := c.LoopDetection
	if ld.HistorySize < 0 || ld.MaxRepeats < 0 || ld.CycleRepeats < 0 {
		add("loop_detection values must not be negative")
	}

	if c.Shell.MaxTimeout > 0 && c.Shell.DefaultTimeout > c.Shell.MaxTimeout {
		add("shell.default_timeout %s exceeds shell.max_timeout %s", c.Shell.DefaultTimeout, c.Shell.MaxTimeout)
	}

	seen := make(map[string]bool)
	for i, s := range c.MCPServers {
		where := fmt.Sprintf("mcp_servers[%d]", i)
		if s.Name == "" {
			add("%s: name is required", where)
		} else {
			where = fmt.Sprintf("mcp_servers[%s]", s.Name)
			if seen[s.Name] {
				add("%s: duplicate name", where)
			}
			seen[s.Name] = true
		}
		switch s.Transport {
		case "", "stdio":
			if s.Command == "" {
				add("%s: stdio transport requires command", where)
			}
		case "http":
			if s.URL == "" {
				add("%s: http transport requires url", where)
			}
		default:
			add("%s: unknown transport %q (want stdio or http)", where, s.Transport)
		}
	}

	switch c.Persistence.Driver {
	case "sqlite3", "sqlite":
	default:
		add("persistence.driver: unknown driver %q (want sqlite3 or sqlite)", c.Persistence.Driver)
	}

	switch c.Search.Provider {
	case "":
	case "brave":
		if c.Search.BraveAPIKey == "" {
			add("search.provider brave requires search.brave_api_key or BRAVE_API_KEY")
		}
	case "searxng":
		if c.Search.SearXNGURL == "" {
			add("search.provider searxng requires search.searxng_url")
		}
	default:
		add("search.provider: unknown provider %q (want brave or searxng)", c.Search.Provider)
	}
	if c.Fetch.MaxBytes < 0 {
		add("fetch.max_bytes must not be negative")
	}

	if c.Chat.Rate < 0 {
		add("chat.rate must not be negative")
	}
	if c.Chat.Burst < 0 {
		add("chat.burst must not be negative")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		add("log_level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		add("log_format: unknown format %q (want text or json)", c.LogFormat)
	}

	return result.ErrorOrNil()
}
