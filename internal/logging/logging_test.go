package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_LevelGating(t *testing.T) {
	logger := New("error", "text")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level to be disabled at error level")
	}

	logger = New("debug", "json")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug level to be enabled")
	}
}

func TestWithRequestID_And_RequestID(t *testing.T) {
	ctx := context.Background()

	// No request ID initially
	if id := RequestID(ctx); id != "" {
		t.Errorf("Expected empty request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("Expected req-123, got %q", id)
	}

	// Later values win
	ctx = WithRequestID(ctx, "req-456")
	if id := RequestID(ctx); id != "req-456" {
		t.Errorf("Expected req-456, got %q", id)
	}
}

func TestWithLogger_And_FromContext(t *testing.T) {
	ctx := context.Background()

	// Default logger when none set
	if FromContext(ctx) == nil {
		t.Fatal("Expected default logger")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)

	if FromContext(ctx) != custom {
		t.Error("Expected custom logger from context")
	}
}

func TestL(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	if L(ctx) == nil {
		t.Fatal("Expected non-nil logger from L()")
	}

	ctx = WithRequestID(ctx, "req-789")
	if L(ctx) == nil {
		t.Fatal("Expected non-nil logger with request ID")
	}
}

func TestScan(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	logger := Scan(ctx, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", 1)
	if logger == nil {
		t.Fatal("Expected non-nil scan logger")
	}
}
