package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/stoewer/go-strcase"
)

// GenerateTestsTool drafts a test file skeleton for a piece of code: one
// test per function found, laid out for the language's usual framework.
// With file_path it writes the skeleton to a new file.
type GenerateTestsTool struct{ pathArgTool }

func NewGenerateTestsTool() *GenerateTestsTool {
	return &GenerateTestsTool{pathArgTool{"file_path"}}
}

func (t *GenerateTestsTool) Name() string { return "generate_tests" }
func (t *GenerateTestsTool) Kind() Kind   { return KindWrite }

func (t *GenerateTestsTool) Description() string {
	return "Draft unit tests for code: one test per function, covering normal input, edge cases and error conditions. " +
		"Returns the skeleton, or writes it to file_path when given."
}

func (t *GenerateTestsTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":      map[string]any{"type": "string", "description": "The code to generate tests for"},
			"language":  map[string]any{"type": "string", "description": "python, javascript, typescript, go or rust"},
			"framework": map[string]any{"type": "string", "description": "Test framework, e.g. pytest, unittest, jest, vitest (default per language)"},
			"file_path": map[string]any{"type": "string", "description": "Optional: new file to save the tests to"},
		},
		"required": []string{"code", "language"},
	}
}

// IsMutating reports true only when the call writes a file.
func (t *GenerateTestsTool) IsMutating(args map[string]any) bool {
	return strings.TrimSpace(stringArg(args, "file_path")) != ""
}

var defaultFrameworks = map[string]string{
	"python":     "pytest",
	"javascript": "jest",
	"typescript": "jest",
	"go":         "testing",
	"rust":       "cargo test",
}

var functionPatterns = map[string]*regexp.Regexp{
	"python":     regexp.MustCompile(`(?m)^(?:async\s+)?def\s+([A-Za-z]\w*)\s*\(`),
	"javascript": regexp.MustCompile(`(?m)^(?:export\s+)?(?:async\s+)?(?:function\s*\*?\s*([A-Za-z_$][\w$]*)|(?:const|let)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s+)?(?:\([^)]*\)|\w+)\s*=>)`),
	"go":         regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?([A-Za-z]\w*)\s*[\[(]`),
	"rust":       regexp.MustCompile(`(?m)^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?fn\s+([a-z_]\w*)`),
}

var goPackage = regexp.MustCompile(`(?m)^package\s+(\w+)`)

func (t *GenerateTestsTool) Execute(_ context.Context, inv Invocation) (*Result, error) {
	code, err := requireString(inv.Args, "code")
	if err != nil {
		return Failure("%v", err), nil
	}
	lang := strings.ToLower(strings.TrimSpace(stringArg(inv.Args, "language")))
	if lang == "" {
		return Failure("language is required"), nil
	}
	framework := strings.ToLower(strings.TrimSpace(stringArg(inv.Args, "framework")))
	if framework == "" {
		framework = defaultFrameworks[lang]
	}
	if framework == "" {
		return Failure("unsupported language %q (want python, javascript, typescript, go or rust)", lang), nil
	}

	funcs := findFunctions(code, lang)
	skeleton, err := renderTests(code, lang, framework, funcs)
	if err != nil {
		return Failure("%v", err), nil
	}

	meta := map[string]any{"language": lang, "framework": framework, "functions": funcs}
	path := strings.TrimSpace(stringArg(inv.Args, "file_path"))
	if path == "" {
		res := Success(skeleton)
		res.Metadata = meta
		return res, nil
	}

	absPath, err := resolvePath(inv.Cwd, path)
	if err != nil {
		return Failure("%v", err), nil
	}
	if _, err := os.Stat(absPath); err == nil {
		return Failure("%s already exists; use edit_file to extend an existing test file", path), nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(absPath, []byte(skeleton), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	meta["path"] = absPath
	res := Success(fmt.Sprintf("Created %s with %d test(s) for %s using %s", path, max(len(funcs), 1), lang, framework))
	res.Diff = udiff.Unified("a/"+path, "b/"+path, "", skeleton)
	res.Metadata = meta
	return res, nil
}

// findFunctions returns the distinct top-level function names in code,
// in source order, skipping private helpers by convention.
func findFunctions(code, lang string) []string {
	key := lang
	if key == "typescript" {
		key = "javascript"
	}
	re := functionPatterns[key]
	if re == nil {
		return nil
	}
	var out []string
	for _, m := range re.FindAllStringSubmatch(code, -1) {
		name := ""
		for _, g := range m[1:] {
			if g != "" {
				name = g
				break
			}
		}
		if name == "" || slices.Contains(out, name) {
			continue
		}
		if lang == "python" && strings.HasPrefix(name, "_") {
			continue
		}
		if lang == "go" && (name == "main" || name == "init") {
			continue
		}
		out = append(out, name)
	}
	return out
}

func renderTests(code, lang, framework string, funcs []string) (string, error) {
	var b strings.Builder
	switch {
	case lang == "python" && framework == "unittest":
		b.WriteString("import unittest\n\n\nclass TestGenerated(unittest.TestCase):\n")
		if len(funcs) == 0 {
			b.WriteString("    def test_behaviour(self):\n        self.skipTest(\"write cases\")\n")
		}
		for _, fn := range funcs {
			fmt.Fprintf(&b, "    def test_%s(self):\n", strcase.SnakeCase(fn))
			for _, c := range []string{"normal input", "edge cases", "invalid input"} {
				fmt.Fprintf(&b, "        # %s\n", c)
			}
			fmt.Fprintf(&b, "        self.skipTest(\"write cases for %s\")\n\n", fn)
		}
		b.WriteString("\nif __name__ == \"__main__\":\n    unittest.main()\n")

	case lang == "python":
		b.WriteString("import pytest\n\n")
		if len(funcs) == 0 {
			b.WriteString("\ndef test_behaviour():\n    pytest.skip(\"write cases\")\n")
		}
		for _, fn := range funcs {
			for _, c := range []string{"normal_input", "edge_cases", "invalid_input"} {
				fmt.Fprintf(&b, "\ndef test_%s_%s():\n    pytest.skip(\"write cases for %s\")\n\n", strcase.SnakeCase(fn), c, fn)
			}
		}

	case lang == "javascript" || lang == "typescript":
		if framework == "vitest" {
			b.WriteString("import { describe, it } from 'vitest';\n\n")
		}
		if len(funcs) == 0 {
			funcs = []string{"module"}
		}
		for _, fn := range funcs {
			fmt.Fprintf(&b, "describe('%s', () => {\n", fn)
			for _, c := range []string{"handles normal input", "handles edge cases", "rejects invalid input"} {
				fmt.Fprintf(&b, "  it.todo('%s');\n", c)
			}
			b.WriteString("});\n\n")
		}

	case lang == "go":
		pkg := "main"
		if m := goPackage.FindStringSubmatch(code); m != nil {
			pkg = m[1]
		}
		fmt.Fprintf(&b, "package %s\n\nimport \"testing\"\n", pkg)
		if len(funcs) == 0 {
			funcs = []string{"Behaviour"}
		}
		for _, fn := range funcs {
			fmt.Fprintf(&b, "\nfunc Test%s(t *testing.T) {\n", strcase.UpperCamelCase(fn))
			b.WriteString("\ttests := []struct {\n\t\tname string\n\t}{\n")
			for _, c := range []string{"normal input", "edge case", "invalid input"} {
				fmt.Fprintf(&b, "\t\t{%q},\n", c)
			}
			b.WriteString("\t}\n\tfor _, tt := range tests {\n\t\tt.Run(tt.name, func(t *testing.T) {\n")
			fmt.Fprintf(&b, "\t\t\tt.Skip(\"cases for %s not written\")\n", fn)
			b.WriteString("\t\t})\n\t}\n}\n")
		}

	case lang == "rust":
		b.WriteString("#[cfg(test)]\nmod tests {\n    use super::*;\n")
		if len(funcs) == 0 {
			funcs = []string{"behaviour"}
		}
		for _, fn := range funcs {
			for _, c := range []string{"normal_input", "edge_cases", "invalid_input"} {
				fmt.Fprintf(&b, "\n    #[test]\n    #[ignore]\n    fn %s_%s() {}\n", fn, c)
			}
		}
		b.WriteString("}\n")

	default:
		return "", fmt.Errorf("unsupported language %q", lang)
	}
	return strings.TrimRight(b.String(), "\n") + "\n", nil
}
