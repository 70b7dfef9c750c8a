package logger

import (
	"log/slog"
	"testing"

	"github.com/kestrelworks/hive/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := parseLevel(c.in); got != c.want {
			t.Errorf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	log := New(config.Logging{Level: "error", Service: "test"})
	if log.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("info should be disabled at error level")
	}
	if !log.Enabled(t.Context(), slog.LevelError) {
		t.Error("error should be enabled at error level")
	}
}
