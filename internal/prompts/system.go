package prompts

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// baseSystemTemplate is the default system prompt. It sets the coding
// assistant's behavior and tool discipline.
const baseSystemTemplate = `You are Godel, an AI coding assistant working in the user's terminal.

## How to Work
- Read before you write: inspect files with read_file, list_dir, glob and grep before changing them.
- Prefer edit_file for small changes and write_file for new files.
- Run the project's tests with run_tests or shell after making changes.
- Keep a task list with todos when a request has several steps.
- Explain what you did in a short summary when you are finished.

## Tool Rules
- Every mutating action may be reviewed by the user. If an action is rejected, do not retry it unchanged; ask or choose another approach.
- Never repeat the same tool call with the same arguments hoping for a different result.
- Stay inside the working directory unless the user asks otherwise.
- Do not run destructive commands (rm -rf, disk formatting, shutdown).

## Style
- Be concise. Use Markdown code blocks for code.
- When you are unsure, say so.`

// environmentTemplate describes where the agent is running. Format
// verbs: (1) working directory, (2) OS/arch, (3) date, (4) tool names.
const environmentTemplate = `

## Environment
- Working directory: %s
- Platform: %s
- Date: %s
- Available tools: %s`

// BaseSystemPrompt returns the default system prompt.
func BaseSystemPrompt() string {
	return baseSystemTemplate
}

// SystemPrompt returns base (or the default when base is empty) with
// the environment section appended.
func SystemPrompt(base, cwd string, toolNames []string, now time.Time) string {
	if strings.TrimSpace(base) == "" {
		base = baseSystemTemplate
	}
	tools := "none"
	if len(toolNames) > 0 {
		tools = strings.Join(toolNames, ", ")
	}
	return base + fmt.Sprintf(environmentTemplate,
		cwd,
		runtime.GOOS+"/"+runtime.GOARCH,
		now.Format("2006-01-02"),
		tools,
	)
}
