package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"virtius.io/virtius/config"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggerConfig{Level: "info", Format: "json"}, &buf)
	log.Info("protected", "original_hash", "abc")
	log.Debug("hidden")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["msg"] != "protected" || entry["original_hash"] != "abc" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug line leaked at info level")
	}
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(config.LoggerConfig{Level: "debug", Format: "text"}, &buf).Debug("stage done", "stage", "cloak")
	if !strings.Contains(buf.String(), "stage=cloak") {
		t.Fatalf("unexpected text output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_FileOutput(t *testing.T) {
	p := filepath.Join(t.TempDir(), "virtius.log")
	log, closer, err := New(config.LoggerConfig{Level: "info", Output: p})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("written to file")
	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(b), "written to file") {
		t.Fatalf("log file missing entry: %q", b)
	}
}

func TestOpenOutput_StdStreams(t *testing.T) {
	for in, want := range map[string]*os.File{"stdout": os.Stdout, "stderr": os.Stderr, "": os.Stderr} {
		w, closer, err := openOutput(in)
		if err != nil {
			t.Fatalf("openOutput(%q): %v", in, err)
		}
		if w != want {
			t.Errorf("openOutput(%q) returned the wrong stream", in)
		}
		_ = closer()
	}
}
