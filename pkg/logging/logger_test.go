package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		enable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"warn level", "warn", slog.LevelWarn},
		{"warning alias", "WARNING", slog.LevelWarn},
		{"default info", "", slog.LevelInfo},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	logger.Info("test message", "key", "value")

	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("Default() should enable info level")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("Default() should not enable debug level")
	}

	logger2 := Default()
	if logger == logger2 {
		t.Error("Default() returned the same instance twice")
	}
}

func TestComponentAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info").Component("sheets")
	logger.Info("ready")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "sheets" {
		t.Fatalf("expected component attribute, got %v", entry["component"])
	}
	if entry["msg"] != "ready" {
		t.Fatalf("expected msg 'ready', got %v", entry["msg"])
	}
}

func TestComponentOnNilLogger(t *testing.T) {
	var l *Logger
	if got := l.Component("x"); got == nil || got.Logger == nil {
		t.Fatal("expected usable logger from nil receiver")
	}
}
