package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"loud", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOutputFor(t *testing.T) {
	tests := []struct {
		in   string
		want io.Writer
	}{
		{"stdout", os.Stdout},
		{"", os.Stdout},
		{"stderr", os.Stderr},
		{"Discard", io.Discard},
		{"none", io.Discard},
	}
	for _, tt := range tests {
		if got := outputFor(tt.in); got != tt.want {
			t.Errorf("outputFor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "gridctl-bank", "1.2.0")

	log.With("component", "driver").Info("port opened", "port", "/dev/ttyACM0")
	log.Debug("filtered")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	want := map[string]string{
		"msg":       "port opened",
		"service":   "gridctl-bank",
		"version":   "1.2.0",
		"component": "driver",
		"port":      "/dev/ttyACM0",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
	if _, ok := entry["source"]; ok {
		t.Error("source attached at info level")
	}
}

func TestNewWriter_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, config.LoggingConfig{Level: "debug", Format: "TEXT"}, "gridctl-robot", "dev")

	log.Debug("macro loaded", "name", "pulse")

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "service=gridctl-robot", "name=pulse", "source="} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNewService_Level(t *testing.T) {
	log := NewService(config.LoggingConfig{Level: "warn", Output: "discard"}, "gridctl-robot", "1.0.0")
	ctx := context.Background()

	if log.Enabled(ctx, slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	if !log.Enabled(ctx, slog.LevelWarn) {
		t.Error("warn disabled at warn level")
	}
}
