package tools

import "fmt"

// ErrToolUnavailable is returned when a call names a tool that is not in
// the registry. It is a capability mismatch, not a transient failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
