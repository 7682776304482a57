package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(BodyID("earth")).Debug(context.Background(), "propagated",
		Float64("sim_seconds", 12.5),
		Int("iterations", 3),
		Vec3("position", 10, 0, -2),
		Err(errors.New("boom")),
	)

	entry := decodeLine(t, &buf)
	if entry["msg"] != "propagated" || entry["body_id"] != "earth" || entry["error"] != "boom" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["sim_seconds"] != 12.5 || entry["iterations"] != float64(3) {
		t.Fatalf("unexpected numeric fields: %v", entry)
	}
	pos, ok := entry["position"].(map[string]any)
	if !ok || pos["x"] != float64(10) || pos["y"] != float64(0) || pos["z"] != float64(-2) {
		t.Fatalf("position group = %v", entry["position"])
	}
	if _, ok := entry["trace_id"]; ok {
		t.Fatalf("trace_id written without a span: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filtering failed: %q", out)
	}
}

func TestSpanContextIsLogged(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "step")
	defer span.End()

	var buf bytes.Buffer
	New(Config{Format: "json", Output: &buf}).Info(ctx, "stepped")

	entry := decodeLine(t, &buf)
	sc := span.SpanContext()
	if entry["trace_id"] != sc.TraceID().String() || entry["span_id"] != sc.SpanID().String() {
		t.Fatalf("span ids missing: %v", entry)
	}
}

func TestRequestLoggerKeepsInboundID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx := ContextWithRequestID(context.Background(), "req-42")
	ctx, _ = WithRequestLogger(ctx, base)
	FromContext(ctx, nil).Info(ctx, "hello")

	if entry := decodeLine(t, &buf); entry["request_id"] != "req-42" {
		t.Fatalf("request_id = %v, want req-42", entry["request_id"])
	}
}

func TestRequestLoggerGeneratesID(t *testing.T) {
	ctx, log := WithRequestLogger(context.Background(), nil)
	id := RequestIDFromContext(ctx)
	if len(id) != 32 {
		t.Fatalf("generated request id %q, want 32 hex chars", id)
	}
	if FromContext(ctx, nil) != log {
		t.Fatalf("request logger not stored on context")
	}
}

func TestRunLoggerTagsRunID(t *testing.T) {
	var buf bytes.Buffer
	ctx, log := WithRunLogger(context.Background(), New(Config{Format: "json", Output: &buf}))
	log.Info(ctx, "starting simulation")

	entry := decodeLine(t, &buf)
	if id, _ := entry["run_id"].(string); len(id) != 32 {
		t.Fatalf("run_id = %v", entry["run_id"])
	}
	if RequestIDFromContext(ctx) != "" {
		t.Fatalf("run logger must not set a request id")
	}
}

func TestFromContextFallback(t *testing.T) {
	if _, ok := FromContext(context.Background(), nil).(noopLogger); !ok {
		t.Fatalf("expected Noop fallback")
	}
	fallback := New(Config{Output: &bytes.Buffer{}})
	if FromContext(context.Background(), fallback) != fallback {
		t.Fatalf("expected the provided fallback")
	}
}
