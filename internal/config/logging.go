package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// LevelTrace sits below debug and is used for full request and
// response bodies exchanged with the completion endpoint and MCP
// servers.
const LevelTrace = slog.Level(-8)

var logLevels = map[string]slog.Level{
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel maps a log_level value to a slog level. Matching is
// case-insensitive and an empty value means info.
func ParseLogLevel(s string) (slog.Level, error) {
	if lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
}

// ReplaceLogLevelNames prints LevelTrace as TRACE instead of DEBUG-4.
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// NewLogger builds the process logger. format is "text" or "json".
// When logFile is set, records go to both w and the file; the returned
// closer releases the file and is never nil.
func NewLogger(w io.Writer, level, format, logFile string) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: ReplaceLogLevelNames,
	}
	newHandler := func(out io.Writer) slog.Handler {
		if format == "json" {
			return slog.NewJSONHandler(out, opts)
		}
		return slog.NewTextHandler(out, opts)
	}

	if logFile == "" {
		return slog.New(newHandler(w)), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	handler := slogmulti.Fanout(newHandler(w), newHandler(f))
	return slog.New(handler), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
