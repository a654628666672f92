// Package config handles Godel configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./godel.yaml, ~/.config/godel/config.yaml, /etc/godel/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"godel.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "godel", "config.yaml"))
	}

	paths = append(paths, "/etc/godel/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Godel configuration.
type Config struct {
	Model         ModelConfig         `yaml:"model"`
	Approval      ApprovalConfig      `yaml:"approval"`
	Cwd           string              `yaml:"cwd"`
	SystemPrompt  string              `yaml:"system_prompt"`
	MaxTurns      int                 `yaml:"max_turns"`
	ToolTimeout   time.Duration       `yaml:"tool_timeout"`
	LoopDetection LoopDetectionConfig `yaml:"loop_detection"`
	Shell         ShellConfig         `yaml:"shell"`
	MCPServers    []MCPServerConfig   `yaml:"mcp_servers"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	GitHub        GitHubConfig        `yaml:"github"`
	Search        SearchConfig        `yaml:"search"`
	Fetch         FetchConfig         `yaml:"fetch"`
	Chat          ChatConfig          `yaml:"chat"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"`
	LogFile       string              `yaml:"log_file"`
}

// ModelConfig selects the completion endpoint.
type ModelConfig struct {
	// Provider is openai (any OpenAI-compatible endpoint) or anthropic.
	Provider    string        `yaml:"provider"`
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Retry       RetryConfig   `yaml:"retry"`
}

// RetryConfig bounds retries of failed completion requests.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// ApprovalConfig controls the tool-call approval gate.
type ApprovalConfig struct {
	// Policy is one of default, auto-edit, auto, on-failure, never, yolo.
	Policy string `yaml:"policy"`
	// PathCheck is "all" (every affected path must be local) or "first".
	PathCheck string `yaml:"path_check"`
	// FailClosed denies confirmations when no one can be asked.
	FailClosed bool `yaml:"fail_closed"`
}

// LoopDetectionConfig bounds tool-call repetition.
type LoopDetectionConfig struct {
	HistorySize  int `yaml:"history_size"`
	MaxRepeats   int `yaml:"max_repeats"`
	CycleRepeats int `yaml:"cycle_repeats"`
}

// ShellConfig defines shell execution limits.
type ShellConfig struct {
	// Disabled leaves the shell and run_tests tools out.
	Disabled       bool          `yaml:"disabled"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	// DeniedPatterns are command substrings refused before approval.
	DeniedPatterns []string `yaml:"denied_patterns"`
}

// MCPServerConfig describes one external tool server.
type MCPServerConfig struct {
	Name string `yaml:"name"`
	// Transport is stdio (default) or http.
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	Dir       string            `yaml:"dir"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
}

// PersistenceConfig locates saved sessions.
type PersistenceConfig struct {
	DataDir string `yaml:"data_dir"`
	// Driver is sqlite3 (cgo) or sqlite (pure Go).
	Driver string `yaml:"driver"`
}

// GitHubConfig configures the GitHub tools.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	Owner   string `yaml:"owner"`
}

// SearchConfig configures the web_search tool. The tool is registered
// only when the selected provider is configured.
type SearchConfig struct {
	// Provider is brave or searxng. Empty picks whichever is configured,
	// preferring brave.
	Provider    string `yaml:"provider"`
	BraveAPIKey string `yaml:"brave_api_key"`
	SearXNGURL  string `yaml:"searxng_url"`
}

// FetchConfig bounds web_fetch.
type FetchConfig struct {
	// MaxBytes caps how much of a response body is read.
	MaxBytes int64 `yaml:"max_bytes"`
}

// ChatConfig configures the WebSocket chat bridge.
type ChatConfig struct {
	Listen       string   `yaml:"listen"`
	AllowedUsers []string `yaml:"allowed_users"`
	// Rate is turns per minute allowed for each user.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// MQTTConfig configures the optional event mirror. An empty Broker
// disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Load reads configuration from a YAML file, expanding environment
// variables, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}
