// Package approval decides whether a tool call may run, needs a human
// to confirm it, or is refused outright.
//
// The shell-command classification is a text-matching heuristic. It
// reduces accidental damage from a well-meaning model; it is not a
// sandbox and offers no protection against an adversarial one.
package approval

import (
	"fmt"
	"strings"
)

// Policy controls how much autonomy tool calls get without a human.
type Policy string

// Approval policies.
const (
	// PolicyDefault approves safe commands and asks about everything else.
	PolicyDefault Policy = "default"
	// PolicyYolo approves everything, flagged-dangerous actions included.
	PolicyYolo Policy = "yolo"
	// PolicyNever approves only safe commands and rejects the rest
	// without asking.
	PolicyNever Policy = "never"
	// PolicyAuto approves any command not on the dangerous list.
	PolicyAuto Policy = "auto"
	// PolicyOnFailure behaves like PolicyAuto.
	PolicyOnFailure Policy = "on-failure"
	// PolicyAutoEdit approves safe commands and asks about the rest.
	PolicyAutoEdit Policy = "auto-edit"
)

// Policies lists every accepted policy, in display order.
var Policies = []Policy{PolicyDefault, PolicyAutoEdit, PolicyAuto, PolicyOnFailure, PolicyNever, PolicyYolo}

// ParsePolicy converts a config or command-line string to a Policy.
// Underscores are accepted in place of dashes and the empty string
// yields PolicyDefault.
func ParsePolicy(s string) (Policy, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if norm == "" {
		return PolicyDefault, nil
	}
	for _, p := range Policies {
		if string(p) == norm {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown approval policy %q", s)
}

// PathCheck selects how affected paths are evaluated.
type PathCheck string

const (
	// PathsAll requires every affected path to be inside the working
	// directory. Any outside path forces confirmation.
	PathsAll PathCheck = "all"
	// PathsFirst inspects only the first affected path.
	PathsFirst PathCheck = "first"
)

// ParsePathCheck converts a config string to a PathCheck. The empty
// string yields PathsAll.
func ParsePathCheck(s string) (PathCheck, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PathsAll):
		return PathsAll, nil
	case string(PathsFirst):
		return PathsFirst, nil
	}
	return "", fmt.Errorf("unknown path check %q (want all or first)", s)
}

// Decision is the verdict for one tool call.
type Decision int

const (
	Approved Decision = iota
	Rejected
	NeedsConfirmation
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case NeedsConfirmation:
		return "needs_confirmation"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Context describes a pending tool call. It is built fresh for every
// call and never persisted.
type Context struct {
	ToolName string
	Args     map[string]any
	Mutating bool
	// Paths the call would touch, in the order the tool reported them.
	Paths []string
	// Command is the shell command text, if the tool runs one.
	Command   string
	Dangerous bool
}
