package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values filled by ApplyDefaults.
const (
	DefaultProvider    = "openai"
	DefaultModel       = "gpt-4o"
	DefaultMaxTurns    = 25
	DefaultToolTimeout = 120 * time.Second
	DefaultDriver      = "sqlite3"
	DefaultChatListen  = "127.0.0.1:8080"
	DefaultChatRate    = 6
	DefaultChatBurst   = 3
	DefaultTopicPrefix = "godel"

	DefaultFetchMaxBytes int64 = 5 << 20
)

// ApplyDefaults fills zero values. API keys fall back to the
// provider's conventional environment variable.
func (c *Config) ApplyDefaults() {
	if c.Model.Provider == "" {
		c.Model.Provider = DefaultProvider
	}
	if c.Model.Name == "" {
		c.Model.Name = DefaultModel
	}
	if c.Model.APIKey == "" {
		switch c.Model.Provider {
		case "anthropic":
			c.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Model.Retry.MaxRetries == 0 {
		c.Model.Retry.MaxRetries = 3
	}
	if c.Model.Retry.BaseDelay == 0 {
		c.Model.Retry.BaseDelay = time.Second
	}
	if c.Model.Retry.MaxDelay == 0 {
		c.Model.Retry.MaxDelay = 30 * time.Second
	}

	if c.Approval.Policy == "" {
		c.Approval.Policy = "default"
	}
	if c.Approval.PathCheck == "" {
		c.Approval.PathCheck = "all"
	}

	if c.Cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Cwd = wd
		}
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = DefaultToolTimeout
	}

	for i := range c.MCPServers {
		if c.MCPServers[i].Transport == "" {
			c.MCPServers[i].Transport = "stdio"
		}
	}

	if c.Persistence.DataDir == "" {
		c.Persistence.DataDir = defaultDataDir()
	}
	if c.Persistence.Driver == "" {
		c.Persistence.Driver = DefaultDriver
	}

	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}

	if c.Search.BraveAPIKey == "" {
		c.Search.BraveAPIKey = os.Getenv("BRAVE_API_KEY")
	}
	if c.Search.Provider == "" {
		switch {
		case c.Search.BraveAPIKey != "":
			c.Search.Provider = "brave"
		case c.Search.SearXNGURL != "":
			c.Search.Provider = "searxng"
		}
	}
	if c.Fetch.MaxBytes == 0 {
		c.Fetch.MaxBytes = DefaultFetchMaxBytes
	}

	if c.Chat.Listen == "" {
		c.Chat.Listen = DefaultChatListen
	}
	if c.Chat.Rate == 0 {
		c.Chat.Rate = DefaultChatRate
	}
	if c.Chat.Burst == 0 {
		c.Chat.Burst = DefaultChatBurst
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".godel")
	}
	return ".godel"
}
