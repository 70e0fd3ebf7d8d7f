package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace sits below [slog.LevelDebug] and turns on full provider
// request and response payloads. It matches llm.LevelTrace.
const LevelTrace = slog.Level(-8)

var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel maps a log_level setting to an [slog.Level]. Matching
// ignores case and surrounding space; empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	level, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
	return level, nil
}

// NewLogger returns a logger writing to w at level. Format "json"
// selects the JSON handler; anything else is text.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: ReplaceLogLevelNames,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Logger builds the logger described by log_level and log_format. An
// invalid level falls back to info; [Config.Validate] rejects it first.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := ParseLogLevel(c.LogLevel)
	return NewLogger(w, level, c.LogFormat)
}

// ReplaceLogLevelNames renders [LevelTrace] as "TRACE" rather than slog's
// "DEBUG-4". Use it as [slog.HandlerOptions.ReplaceAttr].
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
