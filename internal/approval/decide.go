package approval

import (
	"path/filepath"
	"strings"
)

// Decide maps a pending call to a verdict. It is a pure function of its
// inputs. cwd is the session's working-directory root; relative paths in
// c are resolved against it.
//
// Evaluation order:
//  1. Non-mutating calls are approved.
//  2. A shell command is classified. Approved or rejected is final.
//  3. Affected paths outside cwd force confirmation.
//  4. Tool-flagged dangerous calls need confirmation.
//  5. Otherwise the call is approved, unless step 2 asked for
//     confirmation.
//
// Under PolicyYolo nothing ever needs confirmation, and under
// PolicyNever anything that would need it is rejected instead.
func Decide(c Context, policy Policy, cwd string, check PathCheck) Decision {
	if !c.Mutating {
		return Approved
	}
	return finalize(decide(c, policy, cwd, check), policy)
}

func decide(c Context, policy Policy, cwd string, check PathCheck) Decision {
	commandVerdict := Approved
	if c.Command != "" {
		commandVerdict = assessCommand(c.Command, policy)
		if commandVerdict != NeedsConfirmation {
			return commandVerdict
		}
	}

	if !pathsLocal(c.Paths, cwd, check) {
		return NeedsConfirmation
	}

	if c.Dangerous {
		if policy == PolicyYolo {
			return Approved
		}
		return NeedsConfirmation
	}

	return commandVerdict
}

func finalize(d Decision, policy Policy) Decision {
	if d != NeedsConfirmation {
		return d
	}
	switch policy {
	case PolicyYolo:
		return Approved
	case PolicyNever:
		return Rejected
	}
	return d
}

func assessCommand(cmd string, policy Policy) Decision {
	if policy == PolicyYolo {
		return Approved
	}
	cmd = strings.TrimSpace(cmd)
	if IsDangerousCommand(cmd) {
		return Rejected
	}

	switch policy {
	case PolicyNever:
		if IsSafeCommand(cmd) {
			return Approved
		}
		return Rejected
	case PolicyAuto, PolicyOnFailure:
		return Approved
	}

	// PolicyAutoEdit and PolicyDefault share the allowlist behavior.
	if IsSafeCommand(cmd) {
		return Approved
	}
	return NeedsConfirmation
}

func pathsLocal(paths []string, cwd string, check PathCheck) bool {
	if len(paths) == 0 {
		return true
	}
	if check == PathsFirst {
		return IsWithin(cwd, paths[0])
	}
	for _, p := range paths {
		if !IsWithin(cwd, p) {
			return false
		}
	}
	return true
}

// IsWithin reports whether path lies inside root after cleaning.
// Relative paths are taken relative to root.
func IsWithin(root, path string) bool {
	if root == "" {
		return false
	}
	root = filepath.Clean(root)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
