package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Format: "json", Output: &buf})
	l.Info("user created", "username", "ada")

	entry := decodeLine(t, &buf)
	if entry["msg"] != "user created" || entry["username"] != "ada" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["level"] != "INFO" {
		t.Fatalf("expected INFO level, got %v", entry["level"])
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Format: "TEXT", Output: &buf})
	l.Debug("probe", "k", "v")
	if !strings.Contains(buf.String(), "msg=probe") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})
	l.Info("hidden")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info and debug to be filtered, got %q", buf.String())
	}
	l.Error("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected error to be logged")
	}
}

func TestLogger_ContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})
	ctx := WithRequestID(context.Background(), "req-42")

	l.WarnContext(ctx, "slow")
	if got := decodeLine(t, &buf)["request_id"]; got != "req-42" {
		t.Fatalf("expected request_id req-42, got %v", got)
	}

	buf.Reset()
	l.InfoContext(context.Background(), "plain")
	if _, ok := decodeLine(t, &buf)["request_id"]; ok {
		t.Fatalf("request_id must be absent without one in context")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Output: &buf}).WithComponent("api").With("backend", "memory")
	l.Info("ready")
	entry := decodeLine(t, &buf)
	if entry["component"] != "api" || entry["backend"] != "memory" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if WithRequestID(ctx, "") != ctx {
		t.Errorf("empty id must return the same context")
	}
	if got := RequestIDFromContext(WithRequestID(ctx, "abc")); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
	//nolint:staticcheck // nil context is handled explicitly
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("expected empty id from nil context, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFromSlog(t *testing.T) {
	if NewLoggerFromSlog(nil).Slog() != slog.Default() {
		t.Errorf("nil slog logger should fall back to slog.Default()")
	}
	NopLogger().Error("discarded")
}
