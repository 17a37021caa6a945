package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"loom/internal/services"
)

func newTestLogger(w io.Writer) *slog.Logger {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelDebug)
	return slog.New(newConsoleHandler(w, lvl))
}

func TestConsoleHandlerRendersKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	logger.Info("claimed batch", Int("count", 3), String("stage", "summarize"))

	line := buf.String()
	if !strings.Contains(line, "INFO") {
		t.Fatalf("expected level label in %q", line)
	}
	if !strings.Contains(line, "claimed batch") {
		t.Fatalf("expected message in %q", line)
	}
	if !strings.Contains(line, "count=3") || !strings.Contains(line, "stage=summarize") {
		t.Fatalf("expected attributes in %q", line)
	}
}

func TestConsoleHandlerLiftsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewComponentLogger(newTestLogger(&buf), "worker")
	logger.Info("started")

	line := buf.String()
	if !strings.Contains(line, " worker: started") {
		t.Fatalf("expected component prefix in %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not repeat as attribute in %q", line)
	}
}

func TestConsoleHandlerFlattensGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf).WithGroup("claim")
	logger.Info("done", Int("batch", 2))

	if !strings.Contains(buf.String(), "claim.batch=2") {
		t.Fatalf("expected flattened group key in %q", buf.String())
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := services.WithItemID(context.Background(), 42)
	ctx = services.WithStage(ctx, "classify")
	ctx = services.WithWorkerID(ctx, "w-1")

	WithContext(ctx, newTestLogger(&buf)).Info("processing")

	line := buf.String()
	for _, want := range []string{"item_id=42", "stage=classify", "worker_id=w-1"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %q", want, line)
		}
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should never be enabled")
	}
}
