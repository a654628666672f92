// Package buildinfo holds version and build metadata stamped at compile
// time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

func init() {
	if Version != "dev" {
		return
	}
	// go install builds carry the module version instead of ldflags.
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = bi.Main.Version
	}
}

// Info returns build and runtime info as a map.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return fmt.Sprintf("Godel/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Godel %s (%s) built %s", Version, GitCommit, BuildTime)
}
