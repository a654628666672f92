package tools

import "time"

// BuiltinConfig configures the stock tool set.
type BuiltinConfig struct {
	Shell       *ShellExec
	TestTimeout time.Duration
	// DisableShell leaves out shell and run_tests.
	DisableShell bool
	// Memory backs the memory tool; nil registers a fresh one.
	Memory *MemoryTool
}

// RegisterBuiltins adds the local file, search, shell, test and
// memory tools.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) {
	r.Register(NewReadFileTool())
	r.Register(NewWriteFileTool())
	r.Register(NewEditFileTool())
	r.Register(NewListDirTool())
	r.Register(NewGlobTool())
	r.Register(NewGrepTool())
	r.Register(NewTodoTool())
	r.Register(NewGenerateTestsTool())

	memory := cfg.Memory
	if memory == nil {
		memory = NewMemoryTool()
	}
	r.Register(memory)

	if cfg.DisableShell {
		return
	}
	shell := cfg.Shell
	if shell == nil {
		shell = NewShellExec(DefaultShellExecConfig(), r.logger)
	}
	r.Register(NewShellTool(shell))
	r.Register(NewRunTestsTool(shell, cfg.TestTimeout))
}
