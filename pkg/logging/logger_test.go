package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"  WARN": slog.LevelWarn,
		"error":  slog.LevelError,
		"info":   slog.LevelInfo,
		"":       slog.LevelInfo,
		"loud":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerHonorsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", "json")
	log.Info("hidden")
	log.Warn("shown")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a single JSON record: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "shown" {
		t.Fatalf("msg = %v, want shown", rec["msg"])
	}

	buf.Reset()
	NewLogger(&buf, "info", "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text format expected, got %q", buf.String())
	}
}

func TestComponentLoggerTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	log := NewComponentLogger(NewLogger(&buf, "info", "json"), "console")
	log.Info("ready")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec["component"] != "console" {
		t.Fatalf("component = %v, want console", rec["component"])
	}
}
