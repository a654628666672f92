package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const maxSearchResults = 200

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
}

// GlobTool finds files by name pattern. "**" matches any number of
// directories.
type GlobTool struct{ pathArgTool }

func NewGlobTool() *GlobTool { return &GlobTool{pathArgTool{"path"}} }

func (t *GlobTool) Name() string                   { return "glob" }
func (t *GlobTool) Kind() Kind                     { return KindRead }
func (t *GlobTool) IsMutating(map[string]any) bool { return false }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern such as **/*.go or cmd/*/main.go."
}

func (t *GlobTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern, relative to path"},
			"path":    map[string]any{"type": "string", "description": "Directory to search (default: working directory)"},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	pattern, err := requireString(inv.Args, "pattern")
	if err != nil {
		return Failure("%v", err), nil
	}
	root, err := searchRoot(inv)
	if err != nil {
		return Failure("%v", err), nil
	}

	var matches []string
	truncated := false
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		if matchGlob(pattern, filepath.ToSlash(rel)) {
			if len(matches) >= maxSearchResults {
				truncated = true
				return filepath.SkipAll
			}
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	sort.Strings(matches)
	res := Success(strings.Join(matches, "\n"))
	if len(matches) == 0 {
		res.Output = "No files matched."
	}
	res.Truncated = truncated
	res.Metadata = map[string]any{"matches": len(matches)}
	return res, nil
}

// matchGlob matches a slash-separated path against pattern segment by
// segment. A "**" segment matches zero or more path segments.
func matchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := filepath.Match(pat[0], name[0])
		if err != nil || !ok {
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}

// GrepTool searches file contents with a regular expression.
type GrepTool struct{ pathArgTool }

func NewGrepTool() *GrepTool { return &GrepTool{pathArgTool{"path"}} }

func (t *GrepTool) Name() string                   { return "grep" }
func (t *GrepTool) Kind() Kind                     { return KindRead }
func (t *GrepTool) IsMutating(map[string]any) bool { return false }

func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression. Returns file:line: text for each match."
}

func (t *GrepTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern":          map[string]any{"type": "string", "description": "Regular expression (RE2 syntax)"},
			"path":             map[string]any{"type": "string", "description": "File or directory to search (default: working directory)"},
			"include":          map[string]any{"type": "string", "description": "Only search files whose name matches this glob, e.g. *.go"},
			"case_insensitive": map[string]any{"type": "boolean"},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	pattern, err := requireString(inv.Args, "pattern")
	if err != nil {
		return Failure("%v", err), nil
	}
	if boolArg(inv.Args, "case_insensitive") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Failure("invalid pattern: %v", err), nil
	}
	include := stringArg(inv.Args, "include")
	root, err := searchRoot(inv)
	if err != nil {
		return Failure("%v", err), nil
	}

	var hits []string
	truncated := false
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if include != "" {
			if ok, _ := filepath.Match(include, d.Name()); !ok {
				return nil
			}
		}
		found, err := grepFile(p, re, maxSearchResults-len(hits))
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		if rel == "." {
			rel = filepath.Base(p)
		}
		for _, h := range found {
			hits = append(hits, rel+":"+h)
		}
		if len(hits) >= maxSearchResults {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("grep %s: %w", pattern, err)
	}

	res := Success(strings.Join(hits, "\n"))
	if len(hits) == 0 {
		res.Output = "No matches found."
	}
	res.Truncated = truncated
	res.Metadata = map[string]any{"matches": len(hits)}
	return res, nil
}

func grepFile(path string, re *regexp.Regexp, limit int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Skip binary files.
	if bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0 {
		return nil, nil
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan() && len(out) < limit; n++ {
		if re.Match(sc.Bytes()) {
			out = append(out, fmt.Sprintf("%d: %s", n, strings.TrimSpace(sc.Text())))
		}
	}
	return out, nil
}

func searchRoot(inv Invocation) (string, error) {
	path := stringArg(inv.Args, "path")
	if path == "" {
		path = "."
	}
	root, err := resolvePath(inv.Cwd, path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(root); err != nil {
		return "", fmt.Errorf("path not found: %s", path)
	}
	return root, nil
}
