package tools

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestFindFunctions(t *testing.T) {
	tests := []struct {
		name string
		lang string
		code string
		want []string
	}{
		{"python skips private", "python", "def add(a, b):\n    return a + b\n\ndef _helper():\n    pass\n\nasync def fetch():\n    pass\n", []string{"add", "fetch"}},
		{"python ignores methods", "python", "class A:\n    def method(self):\n        pass\n", nil},
		{"javascript", "javascript", "export function sum(a, b) {}\nconst double = (x) => x * 2;\nexport async function load() {}\n", []string{"sum", "double", "load"}},
		{"typescript uses javascript rules", "typescript", "export const parse = async (s: string) => s;\n", []string{"parse"}},
		{"go methods and generics", "go", "package calc\n\nfunc Add(a, b int) int { return a + b }\nfunc (c *Calc) Reset() {}\nfunc Map[T any](xs []T) {}\nfunc main() {}\n", []string{"Add", "Reset", "Map"}},
		{"go dedupes", "go", "func Len() int\nfunc Len() int\n", []string{"Len"}},
		{"rust", "rust", "pub fn area(w: u32) -> u32 { w }\nfn helper() {}\n", []string{"area", "helper"}},
		{"unknown language", "cobol", "PROCEDURE DIVISION.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findFunctions(tt.code, tt.lang); !slices.Equal(got, tt.want) {
				t.Errorf("findFunctions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateTestsSkeletons(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		wantParts []string
	}{
		{
			"pytest default",
			map[string]any{"code": "def add(a, b):\n    return a + b\n", "language": "python"},
			[]string{"import pytest", "def test_add_normal_input():", "def test_add_invalid_input():"},
		},
		{
			"unittest",
			map[string]any{"code": "def parseLine(s):\n    pass\n", "language": "python", "framework": "unittest"},
			[]string{"class TestGenerated(unittest.TestCase):", "def test_parse_line(self):", "unittest.main()"},
		},
		{
			"jest",
			map[string]any{"code": "function sum(a, b) { return a + b }", "language": "javascript"},
			[]string{"describe('sum'", "it.todo('rejects invalid input');"},
		},
		{
			"vitest imports",
			map[string]any{"code": "export const f = () => 1;", "language": "typescript", "framework": "vitest"},
			[]string{"from 'vitest'", "describe('f'"},
		},
		{
			"go keeps package",
			map[string]any{"code": "package calc\n\nfunc add(a, b int) int { return a + b }\n", "language": "go"},
			[]string{"package calc", "import \"testing\"", "func TestAdd(t *testing.T) {", "t.Run(tt.name"},
		},
		{
			"rust",
			map[string]any{"code": "fn area() {}", "language": "rust"},
			[]string{"#[cfg(test)]", "fn area_edge_cases() {}"},
		},
		{
			"no functions still drafts one test",
			map[string]any{"code": "x = 1\n", "language": "python"},
			[]string{"def test_behaviour():"},
		},
	}
	tool := NewGenerateTestsTool()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tool, t.TempDir(), tt.args)
			if !res.Success {
				t.Fatalf("generate_tests failed: %s", res.Error)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(res.Output, part) {
					t.Errorf("output missing %q:\n%s", part, res.Output)
				}
			}
		})
	}
}

func TestGenerateTestsRejectsBadInput(t *testing.T) {
	tool := NewGenerateTestsTool()
	for _, args := range []map[string]any{
		{"language": "python"},
		{"code": "def f(): pass"},
		{"code": "x", "language": "cobol"},
	} {
		if res := run(t, tool, t.TempDir(), args); res.Success {
			t.Errorf("generate_tests(%v) succeeded", args)
		}
	}
}

func TestGenerateTestsWritesFile(t *testing.T) {
	dir := t.TempDir()
	tool := NewGenerateTestsTool()
	args := map[string]any{
		"code":      "package calc\n\nfunc Add(a, b int) int { return a + b }\n",
		"language":  "go",
		"file_path": "calc/calc_test.go",
	}

	if !tool.IsMutating(args) {
		t.Error("IsMutating() = false with file_path")
	}
	if tool.IsMutating(map[string]any{"code": "x", "language": "go"}) {
		t.Error("IsMutating() = true without file_path")
	}
	want := filepath.Join(dir, "calc", "calc_test.go")
	if got := tool.AffectedPaths(args, dir); len(got) != 1 || got[0] != want {
		t.Errorf("AffectedPaths() = %v, want [%s]", got, want)
	}

	res := run(t, tool, dir, args)
	if !res.Success {
		t.Fatalf("generate_tests failed: %s", res.Error)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("test file not written: %v", err)
	}
	if !strings.Contains(string(data), "func TestAdd(t *testing.T) {") {
		t.Errorf("written file = %q", data)
	}
	if res.Diff == "" {
		t.Error("Diff empty for created file")
	}

	res = run(t, tool, dir, args)
	if res.Success {
		t.Error("generate_tests overwrote an existing file")
	}
}
