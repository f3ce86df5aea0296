// ABOUTME: Tests for logger construction
// ABOUTME: Checks file output, level filtering and bad levels
package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")

	logger, err := New(Options{Level: "info", File: path})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("connected")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected json log line, got %q", lines[0])
	}
	if entry["msg"] != "connected" {
		t.Errorf("expected msg connected, got %v", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Errorf("expected level info, got %v", entry["level"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected a time field")
	}
}

func TestNewDebugLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")

	logger, err := New(Options{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	logger.Debug("visible")
	logger.Sync()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "visible") {
		t.Errorf("expected debug entry, got %q", data)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Options{Level: "chatty"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewRejectsUnwritableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "client.log")
	if _, err := New(Options{Level: "info", File: path}); err == nil {
		t.Error("expected error for a log file in a missing directory")
	}
}
