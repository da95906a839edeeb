package log

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseLevel(tc.in); got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewWithFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Options{Level: "debug", File: dir + "/vista.log"})
	if l == nil {
		t.Fatal("New returned nil")
	}
	l.Debug("hello", "k", "v")
}

func TestComponentLogger(t *testing.T) {
	if Component("test") == nil {
		t.Fatal("Component returned nil")
	}
}
