// Package logging provides slog setup helpers for the failover supervisor.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup initializes the default slog logger with the given level and output.
func Setup(level string, output io.Writer) *slog.Logger {
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	handler := slog.NewJSONHandler(output, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromEnv derives the slog level from the DEBUG and VERBOSE environment
// variables (§6): DEBUG=1|true selects debug level. VERBOSE=1|true alone
// selects info level. Absent both, the supervisor is
// quiet by default and logs at warn level, matching the original
// implementation's "silent unless asked" behaviour.
func LevelFromEnv() slog.Level {
	debug := envBool("DEBUG", false)
	verbose := envBool("VERBOSE", debug)

	switch {
	case debug:
		return slog.LevelDebug
	case verbose:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	v = strings.ToLower(v)
	return v == "1" || v == "true"
}
