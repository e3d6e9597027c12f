package scanguard

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(newHandler(&buf, LogConfig{Level: "info", JSON: true}))
	componentLogger(base, "janitor").Info("ban_cleanup", "removed", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["component"] != "janitor" || rec["msg"] != "ban_cleanup" || rec["removed"] != float64(2) {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanguard.log")
	logger, closer := NewLogger(LogConfig{Level: "warn", File: path, MaxSizeMB: 1})
	logger.Info("dropped_below_level")
	logger.Warn("security_alert", "address", "192.0.2.1")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "security_alert") || strings.Contains(out, "dropped_below_level") {
		t.Fatalf("unexpected log contents: %q", out)
	}
}
