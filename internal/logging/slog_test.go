package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	opts := DefaultOptions()
	opts.UseColor = false
	opts.DisableTimestamp = true
	return slog.New(NewPrettyHandler(buf, &opts))
}

func TestHandle_WritesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf)

	log.Info("peer connected", "addr", "10.0.0.1:6881")

	out := buf.String()
	if !strings.Contains(out, "INFO") {
		t.Fatalf("output missing level: %q", out)
	}
	if !strings.Contains(out, "peer connected") {
		t.Fatalf("output missing message: %q", out)
	}
	if !strings.Contains(out, "10.0.0.1:6881") {
		t.Fatalf("output missing attribute value: %q", out)
	}
}

func TestEnabled_RespectsConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.UseColor = false
	opts.SlogOpts.Level = slog.LevelWarn
	log := slog.New(NewPrettyHandler(&buf, &opts))

	log.Info("should be suppressed")
	log.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be suppressed") {
		t.Fatalf("info-level message leaked through: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("warn-level message missing: %q", out)
	}
}

func TestWithAttrs_AppliesToSubsequentRecords(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf)

	log.With("session", "abc123").Info("block requested")

	out := buf.String()
	if !strings.Contains(out, "abc123") {
		t.Fatalf("attached attribute missing: %q", out)
	}
}

func TestWithGroup_NestsAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf)

	log.WithGroup("piece").Info("verified", "index", 7)

	out := buf.String()
	if !strings.Contains(out, "piece") || !strings.Contains(out, "index") {
		t.Fatalf("nested group attributes missing: %q", out)
	}
}

func TestUseColor_AddsAnsiEscapes(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.DisableTimestamp = true
	log := slog.New(NewPrettyHandler(&buf, &opts))

	log.Error("connection reset")

	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected ANSI color codes in output, got %q", buf.String())
	}
}
