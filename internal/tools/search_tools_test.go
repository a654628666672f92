package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "cmd/main.go", false},
		{"**/*.go", "main.go", true},
		{"**/*.go", "cmd/godel/main.go", true},
		{"cmd/*/main.go", "cmd/godel/main.go", true},
		{"cmd/**", "cmd/godel/main.go", true},
		{"internal/**/store.go", "internal/conversation/store.go", true},
		{"internal/**/store.go", "internal/store.go", true},
		{"**/*_test.go", "internal/a.go", false},
	}
	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.name); got != tt.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestGlobTool(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.go":              "package main",
		"internal/a/a.go":      "package a",
		"internal/a/a_test.go": "package a",
		"node_modules/x/y.go":  "skip",
		"docs/readme.md":       "# hi",
	})

	res := run(t, NewGlobTool(), dir, map[string]any{"pattern": "**/*.go"})
	if !res.Success {
		t.Fatalf("glob failed: %s", res.Error)
	}
	want := []string{"internal/a/a.go", "internal/a/a_test.go", "main.go"}
	if res.Output != strings.Join(want, "\n") {
		t.Errorf("Output = %q, want %q", res.Output, strings.Join(want, "\n"))
	}

	res = run(t, NewGlobTool(), dir, map[string]any{"pattern": "*.rs"})
	if res.Output != "No files matched." {
		t.Errorf("no-match Output = %q", res.Output)
	}
}

func TestGrepTool(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.go":     "package a\nfunc Hello() {}\n",
		"b.txt":    "hello world\n",
		"bin.dat":  "hello\x00binary",
		".git/cfg": "hello",
	})

	res := run(t, NewGrepTool(), dir, map[string]any{"pattern": "hello", "case_insensitive": true})
	if !res.Success {
		t.Fatalf("grep failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "a.go:2: func Hello() {}") {
		t.Errorf("Output missing a.go match: %q", res.Output)
	}
	if !strings.Contains(res.Output, "b.txt:1: hello world") {
		t.Errorf("Output missing b.txt match: %q", res.Output)
	}
	if strings.Contains(res.Output, "bin.dat") || strings.Contains(res.Output, ".git") {
		t.Errorf("Output includes skipped files: %q", res.Output)
	}

	res = run(t, NewGrepTool(), dir, map[string]any{"pattern": "hello", "include": "*.txt"})
	if strings.Contains(res.Output, "a.go") {
		t.Errorf("include filter ignored: %q", res.Output)
	}

	res = run(t, NewGrepTool(), dir, map[string]any{"pattern": "("})
	if res.Success {
		t.Error("invalid regexp succeeded")
	}

	res = run(t, NewGrepTool(), dir, map[string]any{"pattern": "x", "path": "missing"})
	if res.Success {
		t.Error("grep of missing path succeeded")
	}
}
