package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, "info", "json"))
	log.Info("overlay applied", "tracts", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "overlay applied" {
		t.Errorf("unexpected msg: %v", rec["msg"])
	}
}

func TestNewHandler_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, "warn", "text")
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be filtered at warn level")
	}

	slog.New(h).Warn("feed poll failed", "source", "nws")
	if !strings.Contains(buf.String(), "source=nws") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}
