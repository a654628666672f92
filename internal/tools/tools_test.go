package tools

import (
	"context"
	"errors"
	"testing"
)

func echoTool(name string) *FuncTool {
	return &FuncTool{
		ToolName: name,
		Desc:     "echo " + name,
		ToolKind: KindRead,
		Handler: func(_ context.Context, inv Invocation) (*Result, error) {
			return Success(stringArg(inv.Args, "text")), nil
		},
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool("b"))
	r.Register(echoTool("a"))

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if got := r.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", got)
	}
	if got := r.List(); got[0].Name() != "a" {
		t.Errorf("List()[0] = %s, want a", got[0].Name())
	}

	tool, err := r.Lookup("a")
	if err != nil {
		t.Fatalf("Lookup(a) error: %v", err)
	}
	res, err := tool.Execute(context.Background(), Invocation{Args: map[string]any{"text": "hi"}})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Output != "hi" {
		t.Errorf("Output = %q, want hi", res.Output)
	}
}

func TestRegistryLookupUnknown(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Lookup("missing")

	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("Lookup() error = %v, want *ErrToolUnavailable", err)
	}
	if unavailable.ToolName != "missing" {
		t.Errorf("ToolName = %q, want missing", unavailable.ToolName)
	}
	if r.Get("missing") != nil {
		t.Error("Get(missing) != nil")
	}
}

func TestRegistryReplaceAndUnregister(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool("a"))
	replacement := echoTool("a")
	replacement.Desc = "second"
	r.Register(replacement)

	if r.Len() != 1 || r.Get("a").Description() != "second" {
		t.Errorf("Register did not replace: len=%d desc=%q", r.Len(), r.Get("a").Description())
	}

	r.Unregister("a")
	r.Unregister("never-registered")
	if r.Len() != 0 {
		t.Errorf("Len() after Unregister = %d", r.Len())
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool("z"))
	r.Register(NewReadFileTool())

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("len(Definitions()) = %d, want 2", len(defs))
	}
	if defs[0].Name != "read_file" {
		t.Errorf("Definitions()[0].Name = %q, want read_file", defs[0].Name)
	}
	if defs[1].Parameters["type"] != "object" {
		t.Errorf("nil schema not replaced with empty object: %v", defs[1].Parameters)
	}
}

func TestFuncToolWithoutHandler(t *testing.T) {
	ft := &FuncTool{ToolName: "empty"}
	if _, err := ft.Execute(context.Background(), Invocation{}); err == nil {
		t.Error("Execute() with nil handler expected error")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, BuiltinConfig{})
	for _, name := range []string{"read_file", "write_file", "edit_file", "list_dir", "glob", "grep", "todos", "generate_tests", "memory", "shell", "run_tests"} {
		if r.Get(name) == nil {
			t.Errorf("builtin %s not registered", name)
		}
	}

	r = NewRegistry(nil)
	RegisterBuiltins(r, BuiltinConfig{DisableShell: true})
	if r.Get("shell") != nil || r.Get("run_tests") != nil {
		t.Error("shell tools registered with DisableShell")
	}
}

func TestBuiltinClassification(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, BuiltinConfig{})

	tests := []struct {
		name     string
		mutating bool
	}{
		{"read_file", false},
		{"list_dir", false},
		{"glob", false},
		{"grep", false},
		{"todos", false},
		{"memory", false},
		{"generate_tests", false},
		{"write_file", true},
		{"edit_file", true},
		{"shell", true},
		{"run_tests", true},
	}
	for _, tt := range tests {
		if got := r.Get(tt.name).IsMutating(nil); got != tt.mutating {
			t.Errorf("%s.IsMutating() = %v, want %v", tt.name, got, tt.mutating)
		}
	}

	if _, ok := r.Get("write_file").(PathResolver); !ok {
		t.Error("write_file does not implement PathResolver")
	}
	if _, ok := r.Get("shell").(CommandResolver); !ok {
		t.Error("shell does not implement CommandResolver")
	}
	if !r.Get("generate_tests").IsMutating(map[string]any{"file_path": "x_test.go"}) {
		t.Error("generate_tests with file_path is not mutating")
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if got := SessionIDFromContext(ctx); got != "default" {
		t.Errorf("SessionIDFromContext(empty) = %q, want default", got)
	}
	if got := CallIDFromContext(ctx); got != "" {
		t.Errorf("CallIDFromContext(empty) = %q, want empty", got)
	}
	ctx = WithCallID(WithSessionID(ctx, "s1"), "c1")
	if SessionIDFromContext(ctx) != "s1" || CallIDFromContext(ctx) != "c1" {
		t.Errorf("ids = %q, %q; want s1, c1", SessionIDFromContext(ctx), CallIDFromContext(ctx))
	}
}
