package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Result is the outcome of one tool call. It is not modified after the
// tool returns it.
type Result struct {
	Success   bool           `json:"success"`
	Output    string         `json:"output"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Diff      string         `json:"diff,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	ExitCode  *int           `json:"exit_code,omitempty"`
}

// Success returns a successful result with output.
func Success(output string) *Result {
	return &Result{Success: true, Output: output}
}

// Failure returns a failed result with a formatted error message.
func Failure(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// WithExitCode sets the process exit code and returns r.
func (r *Result) WithExitCode(code int) *Result {
	r.ExitCode = &code
	return r
}

// ModelContent is the text stored in the tool message the model reads.
func (r *Result) ModelContent() string {
	var b strings.Builder
	if r.Success {
		b.WriteString(r.Output)
		if r.Output == "" {
			b.WriteString("(no output)")
		}
	} else {
		b.WriteString("Error: ")
		b.WriteString(r.Error)
		if r.Output != "" {
			b.WriteString("\n")
			b.WriteString(r.Output)
		}
	}
	if r.ExitCode != nil && *r.ExitCode != 0 {
		b.WriteString("\n[exit code ")
		b.WriteString(strconv.Itoa(*r.ExitCode))
		b.WriteString("]")
	}
	if r.Truncated {
		b.WriteString("\n[output truncated]")
	}
	return b.String()
}

// ParseArguments decodes the model's JSON argument text. Empty text is
// an empty map. Text that is not a JSON object is kept verbatim under
// the "raw_arguments" key so the tool can report it.
func ParseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{"raw_arguments": raw}
	}
	return args
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func requireString(args map[string]any, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		if raw, ok := args["raw_arguments"].(string); ok {
			return "", fmt.Errorf("could not parse arguments: %s", raw)
		}
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// truncateOutput cuts s to maxBytes and reports whether it did.
func truncateOutput(s string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s, false
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]", true
}
