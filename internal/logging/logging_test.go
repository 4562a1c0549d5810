package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	if logger := New("", "text"); logger == nil {
		t.Fatal("expected non-nil logger")
	}

	logger := New("debug", "text")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}

	logger = New("error", "json")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info level to be disabled at error level")
	}
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RequestID(ctx); id != "" {
		t.Errorf("expected empty request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("expected req-123, got %q", id)
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	if logger := FromContext(ctx); logger == nil {
		t.Fatal("expected default logger")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	if got := FromContext(ctx); got != custom {
		t.Error("expected custom logger from context")
	}
}

func TestL(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	if L(ctx) == nil {
		t.Fatal("expected non-nil logger from L()")
	}
	ctx = WithRequestID(ctx, "req-456")
	if L(ctx) == nil {
		t.Fatal("expected non-nil logger from L() with request ID")
	}
}
