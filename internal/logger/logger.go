// Package logger configures structured logging for the hive daemon and
// services.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/kestrelworks/hive/internal/config"
)

// New builds a JSON slog logger at the configured level. Every record
// carries the service name so logs from multiple processes stay
// attributable.
func New(cfg config.Logging) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(h).With("service", cfg.Service)
}

// parseLevel maps a config string to a slog.Level. Unknown values fall
// back to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
