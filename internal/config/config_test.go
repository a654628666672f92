package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("max_turns: 5\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "godel.yaml"), []byte("max_turns: 5\n"), 0600)
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "godel.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "godel.yaml")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "godel.yaml")
	t.Setenv("GODEL_TEST_KEY", "sk-secret")
	os.WriteFile(path, []byte(`
model:
  provider: anthropic
  name: claude-sonnet
  api_key: ${GODEL_TEST_KEY}
  temperature: 0.2
approval:
  policy: auto-edit
tool_timeout: 45s
shell:
  default_timeout: 10s
mcp_servers:
  - name: files
    command: mcp-files
    args: ["--root", "."]
  - name: remote
    transport: http
    url: https://mcp.example.test/rpc
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model.APIKey != "sk-secret" {
		t.Errorf("api_key = %q, want expanded env var", cfg.Model.APIKey)
	}
	if cfg.Model.Temperature == nil || *cfg.Model.Temperature != 0.2 {
		t.Errorf("temperature = %v", cfg.Model.Temperature)
	}
	if cfg.ToolTimeout != 45*time.Second {
		t.Errorf("tool_timeout = %v, want 45s", cfg.ToolTimeout)
	}
	if cfg.Shell.DefaultTimeout != 10*time.Second {
		t.Errorf("shell.default_timeout = %v", cfg.Shell.DefaultTimeout)
	}
	if len(cfg.MCPServers) != 2 || cfg.MCPServers[0].Transport != "stdio" || cfg.MCPServers[0].Args[1] != "." {
		t.Errorf("mcp_servers = %+v", cfg.MCPServers)
	}
	// Defaults fill what the file left out.
	if cfg.MaxTurns != DefaultMaxTurns || cfg.Persistence.Driver != DefaultDriver {
		t.Errorf("defaults not applied: max_turns=%d driver=%q", cfg.MaxTurns, cfg.Persistence.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("model: [unclosed\n"), 0600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyDefaults_EnvKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "ant")
	t.Setenv("OPENAI_API_KEY", "oai")
	t.Setenv("GITHUB_TOKEN", "gh")

	cfg := &Config{Model: ModelConfig{Provider: "anthropic"}}
	cfg.ApplyDefaults()
	if cfg.Model.APIKey != "ant" {
		t.Errorf("anthropic key = %q", cfg.Model.APIKey)
	}
	if cfg.GitHub.Token != "gh" {
		t.Errorf("github token = %q", cfg.GitHub.Token)
	}

	def := Default()
	if def.Model.APIKey != "oai" || def.Model.Provider != "openai" {
		t.Errorf("default model = %+v", def.Model)
	}
	if def.Approval.Policy != "default" || def.Chat.Rate != DefaultChatRate {
		t.Errorf("default approval/chat = %+v %+v", def.Approval, def.Chat)
	}
}

func TestApplyDefaults_Search(t *testing.T) {
	tests := []struct {
		name         string
		env          string
		in           SearchConfig
		wantProvider string
	}{
		{"nothing configured", "", SearchConfig{}, ""},
		{"brave from env", "env-key", SearchConfig{}, "brave"},
		{"searxng url", "", SearchConfig{SearXNGURL: "http://searx:8080"}, "searxng"},
		{"brave preferred", "", SearchConfig{BraveAPIKey: "k", SearXNGURL: "http://searx:8080"}, "brave"},
		{"explicit kept", "env-key", SearchConfig{Provider: "searxng", SearXNGURL: "http://searx:8080"}, "searxng"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BRAVE_API_KEY", tt.env)
			cfg := &Config{Search: tt.in}
			cfg.ApplyDefaults()
			if cfg.Search.Provider != tt.wantProvider {
				t.Errorf("Search.Provider = %q, want %q", cfg.Search.Provider, tt.wantProvider)
			}
			if cfg.Fetch.MaxBytes != DefaultFetchMaxBytes {
				t.Errorf("Fetch.MaxBytes = %d", cfg.Fetch.MaxBytes)
			}
		})
	}
}

func TestValidate_Search(t *testing.T) {
	tests := []struct {
		name    string
		search  SearchConfig
		wantErr string
	}{
		{"none", SearchConfig{}, ""},
		{"brave ok", SearchConfig{Provider: "brave", BraveAPIKey: "k"}, ""},
		{"brave without key", SearchConfig{Provider: "brave"}, "requires search.brave_api_key"},
		{"searxng without url", SearchConfig{Provider: "searxng"}, "requires search.searxng_url"},
		{"unknown", SearchConfig{Provider: "bing"}, "unknown provider \"bing\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BRAVE_API_KEY", "")
			cfg := Default()
			cfg.Search = tt.search
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Model.Provider = "bogus"
	cfg.Approval.Policy = "reckless"
	cfg.Persistence.Driver = "postgres"
	cfg.LogFormat = "xml"
	cfg.MCPServers = []MCPServerConfig{
		{Name: "a", Transport: "stdio"},
		{Name: "a", Transport: "http"},
		{Transport: "carrier-pigeon", Command: "x"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"model.provider",
		"approval.policy",
		"persistence.driver",
		"log_format",
		"mcp_servers[a]: stdio transport requires command",
		"mcp_servers[a]: duplicate name",
		"mcp_servers[a]: http transport requires url",
		"mcp_servers[2]: name is required",
		"unknown transport",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("validation error missing %q\ngot: %s", want, msg)
		}
	}
}

func TestValidate_Default(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "godel.log")

	logger, closer, err := NewLogger(&buf, "trace", "json", logFile)
	if err != nil {
		t.Fatalf("NewLogger error: %v", err)
	}
	logger.Log(t.Context(), LevelTrace, "wire payload", "session_id", "s1")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if !strings.Contains(buf.String(), `"level":"TRACE"`) {
		t.Errorf("writer output = %s", buf.String())
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "wire payload") {
		t.Errorf("log file missing record: %s", data)
	}

	if _, _, err := NewLogger(&buf, "loud", "text", ""); err == nil {
		t.Error("expected error for unknown level")
	}
}
