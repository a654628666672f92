package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aymanbagabas/go-udiff"
)

const maxReadBytes = 50 * 1024

// resolvePath makes path absolute against cwd. Paths outside cwd are
// allowed here; the approval gate decides whether to touch them.
func resolvePath(cwd, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	if cwd == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", path, err)
		}
		return abs, nil
	}
	return filepath.Clean(filepath.Join(cwd, path)), nil
}

// pathArgTool supplies AffectedPaths for tools that take a single path.
type pathArgTool struct {
	key string
}

func (p pathArgTool) AffectedPaths(args map[string]any, cwd string) []string {
	raw := stringArg(args, p.key)
	if raw == "" {
		return nil
	}
	abs, err := resolvePath(cwd, raw)
	if err != nil {
		return nil
	}
	return []string{abs}
}

// ReadFileTool reads a text file, optionally a line window of it.
type ReadFileTool struct{ pathArgTool }

func NewReadFileTool() *ReadFileTool { return &ReadFileTool{pathArgTool{"path"}} }

func (t *ReadFileTool) Name() string                   { return "read_file" }
func (t *ReadFileTool) Kind() Kind                     { return KindRead }
func (t *ReadFileTool) IsMutating(map[string]any) bool { return false }

func (t *ReadFileTool) Description() string {
	return "Read a file. Use offset and limit (1-indexed lines) for large files."
}

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string", "description": "File path, relative to the working directory or absolute"},
			"offset": map[string]any{"type": "integer", "description": "First line to return (1-indexed)"},
			"limit":  map[string]any{"type": "integer", "description": "Maximum number of lines to return"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, inv Invocation) (*Result, error) {
	path, err := requireString(inv.Args, "path")
	if err != nil {
		return Failure("%v", err), nil
	}
	absPath, err := resolvePath(inv.Cwd, path)
	if err != nil {
		return Failure("%v", err), nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure("file not found: %s", path), nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	content := string(data)
	lines := strings.Split(content, "\n")
	offset := intArg(inv.Args, "offset", 0)
	limit := intArg(inv.Args, "limit", 0)

	if offset > 0 || limit > 0 {
		start := 0
		if offset > 0 {
			start = offset - 1
		}
		if start >= len(lines) {
			return Failure("offset %d exceeds file length (%d lines)", offset, len(lines)), nil
		}
		end := len(lines)
		if limit > 0 && start+limit < end {
			end = start + limit
		}
		content = strings.Join(lines[start:end], "\n")
		if start > 0 || end < len(lines) {
			content = fmt.Sprintf("[Lines %d-%d of %d]\n%s", start+1, end, len(lines), content)
		}
	}

	res := Success(content)
	if len(content) > maxReadBytes {
		res.Output = content[:maxReadBytes] + "\n\n[... truncated, use offset/limit for more ...]"
		res.Truncated = true
	}
	res.Metadata = map[string]any{"path": absPath, "lines": len(lines), "bytes": len(data)}
	return res, nil
}

// WriteFileTool creates or overwrites a file and reports the diff.
type WriteFileTool struct{ pathArgTool }

func NewWriteFileTool() *WriteFileTool { return &WriteFileTool{pathArgTool{"path"}} }

func (t *WriteFileTool) Name() string                   { return "write_file" }
func (t *WriteFileTool) Kind() Kind                     { return KindWrite }
func (t *WriteFileTool) IsMutating(map[string]any) bool { return true }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating parent directories as needed. Overwrites existing files."
}

func (t *WriteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path"},
			"content": map[string]any{"type": "string", "description": "Full file content"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, inv Invocation) (*Result, error) {
	path, err := requireString(inv.Args, "path")
	if err != nil {
		return Failure("%v", err), nil
	}
	absPath, err := resolvePath(inv.Cwd, path)
	if err != nil {
		return Failure("%v", err), nil
	}
	content := stringArg(inv.Args, "content")

	var old string
	created := false
	if data, err := os.ReadFile(absPath); err == nil {
		old = string(data)
	} else if errors.Is(err, fs.ErrNotExist) {
		created = true
	} else {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	verb := "Updated"
	if created {
		verb = "Created"
	}
	res := Success(fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content)))
	res.Diff = udiff.Unified("a/"+path, "b/"+path, old, content)
	res.Metadata = map[string]any{"path": absPath, "created": created, "bytes": len(content)}
	return res, nil
}

// EditFileTool replaces a unique occurrence of text in a file.
type EditFileTool struct{ pathArgTool }

func NewEditFileTool() *EditFileTool { return &EditFileTool{pathArgTool{"path"}} }

func (t *EditFileTool) Name() string                   { return "edit_file" }
func (t *EditFileTool) Kind() Kind                     { return KindWrite }
func (t *EditFileTool) IsMutating(map[string]any) bool { return true }

func (t *EditFileTool) Description() string {
	return "Replace old_text with new_text in a file. old_text must appear exactly once unless replace_all is set."
}

func (t *EditFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":        map[string]any{"type": "string", "description": "File path"},
			"old_text":    map[string]any{"type": "string", "description": "Exact text to replace"},
			"new_text":    map[string]any{"type": "string", "description": "Replacement text"},
			"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(_ context.Context, inv Invocation) (*Result, error) {
	path, err := requireString(inv.Args, "path")
	if err != nil {
		return Failure("%v", err), nil
	}
	oldText, err := requireString(inv.Args, "old_text")
	if err != nil {
		return Failure("%v", err), nil
	}
	newText := stringArg(inv.Args, "new_text")

	absPath, err := resolvePath(inv.Cwd, path)
	if err != nil {
		return Failure("%v", err), nil
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure("file not found: %s", path), nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)

	count := strings.Count(content, oldText)
	switch {
	case count == 0:
		if len(oldText) > 100 {
			return Failure("old text not found in file (first 100 chars: %q...)", oldText[:100]), nil
		}
		return Failure("old text not found in file: %q", oldText), nil
	case count > 1 && !boolArg(inv.Args, "replace_all"):
		return Failure("old text appears %d times in file; must be unique for safe editing", count), nil
	}

	n := 1
	if boolArg(inv.Args, "replace_all") {
		n = -1
	}
	updated := strings.Replace(content, oldText, newText, n)
	if err := os.WriteFile(absPath, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	replaced := 1
	if n < 0 {
		replaced = count
	}
	res := Success(fmt.Sprintf("Edited %s (%d replacement(s))", path, replaced))
	res.Diff = udiff.Unified("a/"+path, "b/"+path, content, updated)
	res.Metadata = map[string]any{"path": absPath, "replacements": replaced}
	return res, nil
}

// ListDirTool lists a directory.
type ListDirTool struct{ pathArgTool }

func NewListDirTool() *ListDirTool { return &ListDirTool{pathArgTool{"path"}} }

func (t *ListDirTool) Name() string                   { return "list_dir" }
func (t *ListDirTool) Kind() Kind                     { return KindRead }
func (t *ListDirTool) IsMutating(map[string]any) bool { return false }

func (t *ListDirTool) Description() string {
	return "List the entries of a directory. Directories end with a slash."
}

func (t *ListDirTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory path (default: working directory)"},
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, inv Invocation) (*Result, error) {
	path := stringArg(inv.Args, "path")
	if path == "" {
		path = "."
	}
	absPath, err := resolvePath(inv.Cwd, path)
	if err != nil {
		return Failure("%v", err), nil
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure("directory not found: %s", path), nil
		}
		return Failure("read directory %s: %v", path, err), nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	res := Success(strings.Join(names, "\n"))
	if len(names) == 0 {
		res.Output = "(empty directory)"
	}
	res.Metadata = map[string]any{"path": absPath, "entries": len(names)}
	return res, nil
}
