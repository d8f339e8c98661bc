package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSessionID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if sid := SessionID(ctx); sid != "" {
		t.Errorf("expected empty session id, got %q", sid)
	}

	ctx = WithSessionID(ctx, "kite-session-1")
	if sid := SessionID(ctx); sid != "kite-session-1" {
		t.Errorf("expected 'kite-session-1', got %q", sid)
	}
}

func TestNewSessionID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	sid := NewSessionID("apikey", ts)

	if !strings.HasPrefix(sid, "apikey-") {
		t.Errorf("expected session id to start with 'apikey-', got %s", sid)
	}
	// Verify it contains the nano timestamp
	if !strings.Contains(sid, "123456789") {
		t.Errorf("expected session id to contain nanoseconds, got %s", sid)
	}
}

func TestLogWithSession(t *testing.T) {
	ctx := context.Background()

	if attrs := LogWithSession(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no session id, got %v", attrs)
	}

	ctx = WithSessionID(ctx, "abc-123")
	if attrs := LogWithSession(ctx); len(attrs) != 1 {
		t.Fatalf("expected one attr with session id set, got %v", attrs)
	}
}
