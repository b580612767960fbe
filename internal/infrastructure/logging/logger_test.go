package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"empty output", config.LoggingConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if New(tt.cfg, "1.0.0") == nil {
				t.Fatal("New() returned nil")
			}
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: path}, "1.2.3")

	logger.Info("fan connected", "fan", "bedroom")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, data)
	}
	if entry["service"] != ServiceName {
		t.Errorf("service = %v, want %s", entry["service"], ServiceName)
	}
	if entry["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", entry["version"])
	}
	if entry["fan"] != "bedroom" {
		t.Errorf("fan = %v, want bedroom", entry["fan"])
	}
}

func TestNew_UnwritableFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "bridge.log")
	if New(config.LoggingConfig{Output: path}, "1.0.0") == nil {
		t.Fatal("New() returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogger_SetLevelSharedWithChildren(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	logger := &Logger{
		Logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})),
		level:  level,
	}
	child := logger.Component("connection")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %s", buf.String())
	}

	logger.SetLevel("debug")
	if child.Level() != slog.LevelDebug {
		t.Errorf("child Level() = %v, want debug", child.Level())
	}
	child.Debug("shown")
	if !strings.Contains(buf.String(), `"component":"connection"`) {
		t.Errorf("output = %q, want component field", buf.String())
	}
}

func TestLogger_With(t *testing.T) {
	logger := Default()
	child := logger.With("component", "mqtt")

	if child == nil || child == logger {
		t.Fatal("With() should return a new logger")
	}
}
