package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunTestsTool runs a test file or package with the runner for its
// language.
type RunTestsTool struct {
	pathArgTool
	exec    *ShellExec
	timeout time.Duration
}

// NewRunTestsTool creates the run_tests tool. A zero timeout uses the
// executor's default.
func NewRunTestsTool(exec *ShellExec, timeout time.Duration) *RunTestsTool {
	return &RunTestsTool{pathArgTool: pathArgTool{"test_file"}, exec: exec, timeout: timeout}
}

func (t *RunTestsTool) Name() string { return "run_tests" }
func (t *RunTestsTool) Kind() Kind   { return KindShell }

func (t *RunTestsTool) Description() string {
	return "Run tests with the appropriate runner (pytest, unittest, jest, vitest, go test) and return the results."
}

func (t *RunTestsTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"test_file": map[string]any{"type": "string", "description": "Test file or package path (go: ./... style)"},
			"test_code": map[string]any{"type": "string", "description": "Test source to write to a temporary file and run, if no test_file is given"},
			"language":  map[string]any{"type": "string", "description": "python, javascript, typescript or go (detected from the file extension if omitted)"},
			"framework": map[string]any{"type": "string", "description": "Test framework, e.g. pytest, unittest, jest, vitest"},
		},
	}
}

// Running tests executes project code, so every call goes through the
// approval gate.
func (t *RunTestsTool) IsMutating(map[string]any) bool { return true }

// Command implements CommandResolver.
func (t *RunTestsTool) Command(args map[string]any, _ string) string {
	file := stringArg(args, "test_file")
	if file == "" {
		file = "<test_code>"
	}
	argv, err := testCommand(file, detectLanguage(args), stringArg(args, "framework"))
	if err != nil {
		return ""
	}
	return strings.Join(argv, " ")
}

func (t *RunTestsTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	file := stringArg(inv.Args, "test_file")
	code := stringArg(inv.Args, "test_code")
	if file == "" && code == "" {
		return Failure("either test_file or test_code must be provided"), nil
	}
	lang := detectLanguage(inv.Args)

	if file == "" {
		tmp, err := writeTempTest(code, lang)
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp)
		file = tmp
	}

	argv, err := testCommand(file, lang, stringArg(inv.Args, "framework"))
	if err != nil {
		return Failure("%v", err), nil
	}

	res, err := t.exec.Run(ctx, inv.Cwd, argv, t.timeout)
	if err != nil {
		return Failure("%v", err), nil
	}
	if res.Error != "" && !res.TimedOut {
		return Failure("test runner %q could not be started: %s", argv[0], res.Error), nil
	}

	out := execToResult(res)
	if res.TimedOut {
		return out, nil
	}
	// A failing suite is still a successful tool run; the model reads
	// the verdict from the output.
	verdict := "All tests passed"
	if res.ExitCode != 0 {
		verdict = "Some tests failed"
	}
	out.Success = true
	out.Error = ""
	out.Output = verdict + "\n\n" + out.Output
	out.Metadata["passed"] = res.ExitCode == 0
	out.Metadata["command"] = strings.Join(argv, " ")
	return out, nil
}

func detectLanguage(args map[string]any) string {
	if lang := strings.ToLower(stringArg(args, "language")); lang != "" {
		return lang
	}
	file := stringArg(args, "test_file")
	switch filepath.Ext(file) {
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".go":
		return "go"
	}
	if strings.HasPrefix(file, "./") && strings.HasSuffix(file, "...") {
		return "go"
	}
	return "python"
}

func testCommand(file, lang, framework string) ([]string, error) {
	switch lang {
	case "python":
		if framework == "unittest" {
			return []string{"python", "-m", "unittest", file}, nil
		}
		return []string{"pytest", file, "-v", "--tb=short"}, nil
	case "javascript", "typescript":
		if framework == "" {
			framework = "jest"
		}
		return []string{"npx", framework, file}, nil
	case "go":
		pkg := file
		if filepath.Ext(file) == ".go" {
			pkg = "./" + filepath.Dir(file)
		}
		return []string{"go", "test", "-v", pkg}, nil
	}
	return nil, fmt.Errorf("unsupported language: %s", lang)
}

func writeTempTest(code, lang string) (string, error) {
	ext := map[string]string{
		"python":     ".py",
		"javascript": ".test.js",
		"typescript": ".test.ts",
		"go":         "_test.go",
	}[lang]
	if ext == "" {
		ext = ".py"
	}
	f, err := os.CreateTemp("", "godel_test_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp test file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(code); err != nil {
		return "", fmt.Errorf("write temp test file: %w", err)
	}
	return f.Name(), nil
}
