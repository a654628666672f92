package approval

import (
	"regexp"
	"strings"
)

// Matching is case-insensitive and unanchored unless the pattern says
// otherwise.
var dangerousPatterns = compile(
	// filesystem destruction
	`rm\s+(-rf?|--recursive)\s+[/~]`,
	`rm\s+-rf?\s+\*`,
	`rmdir\s+[/~]`,
	// disk operations
	`dd\s+if=`,
	`mkfs`,
	`fdisk`,
	`parted`,
	// system control
	`shutdown`,
	`reboot`,
	`halt`,
	`poweroff`,
	`init\s+[06]`,
	// permission changes on root paths
	`chmod\s+(-R\s+)?777\s+[/~]`,
	`chown\s+-R\s+.*\s+[/~]`,
	// listeners
	`nc\s+-l`,
	`netcat\s+-l`,
	// piping downloads into a shell
	`curl\s+.*\|\s*(bash|sh)`,
	`wget\s+.*\|\s*(bash|sh)`,
	// fork bomb
	`:\(\)\s*\{\s*:\|:&\s*\}\s*;`,
)

var safePatterns = compile(
	// information
	`^(ls|dir|pwd|cd|echo|cat|head|tail|less|more|wc)(\s|$)`,
	`^(find|locate|which|whereis|file|stat)(\s|$)`,
	// read-only development tools
	`^git\s+(status|log|diff|show|branch|remote|tag)(\s|$)`,
	`^(npm|yarn|pnpm)\s+(list|ls|outdated)(\s|$)`,
	`^pip\s+(list|show|freeze)(\s|$)`,
	`^cargo\s+(tree|search)(\s|$)`,
	`^go\s+(version|env|list|doc)(\s|$)`,
	// text processing
	`^(grep|awk|sed|cut|sort|uniq|tr|diff|comm)(\s|$)`,
	// system info
	`^(date|cal|uptime|whoami|id|groups|hostname|uname)(\s|$)`,
	`^(env|printenv|set)$`,
	// process info
	`^(ps|top|htop|pgrep)(\s|$)`,
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// IsDangerousCommand reports whether cmd matches a known destructive
// pattern.
func IsDangerousCommand(cmd string) bool {
	return matchAny(dangerousPatterns, cmd)
}

// IsSafeCommand reports whether cmd matches a known read-only pattern.
// A compound command is never safe: the patterns only describe its
// first command.
func IsSafeCommand(cmd string) bool {
	if isCompound(cmd) {
		return false
	}
	return matchAny(safePatterns, cmd)
}

// isCompound covers ;, &&, ||, |, backticks and $( substitution.
func isCompound(cmd string) bool {
	return strings.ContainsAny(cmd, ";|`") ||
		strings.Contains(cmd, "&&") ||
		strings.Contains(cmd, "$(")
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
