package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the process-wide logger instance.
var Logger *slog.Logger

func init() {
	// A usable logger must exist before Init runs; packages log during
	// startup error paths.
	Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// Init configures the logger for the given level. All output targets
// stderr: stdout carries framed MCP protocol messages and a single stray
// log byte there corrupts the session.
func Init(level string) {
	lvl := new(slog.LevelVar)

	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		lvl.Set(slog.LevelDebug)
	case "WARN":
		lvl.Set(slog.LevelWarn)
	case "ERROR":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))

	slog.SetDefault(Logger)
}
