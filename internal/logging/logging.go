// Package logging builds the structured loggers used by the CLI.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// New returns a slog.Logger writing to w at the given level (debug, info,
// warn, error). format may be "json" or "text".
func New(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogAlignStart logs the beginning of an alignment run.
func LogAlignStart(logger *slog.Logger, method, imagePath, refPath string) {
	logger.Info("alignment started",
		"method", method,
		"image", imagePath,
		"reference", refPath,
	)
}

// LogAlignComplete logs a successful alignment with its summary fields.
func LogAlignComplete(logger *slog.Logger, method string, duration time.Duration, summary map[string]any) {
	logger.Info("alignment completed",
		"method", method,
		"duration_ms", duration.Milliseconds(),
		"result", summary,
	)
}

// LogAlignError logs a failed alignment.
func LogAlignError(logger *slog.Logger, method string, duration time.Duration, err error) {
	logger.Error("alignment failed",
		"method", method,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
	)
}
