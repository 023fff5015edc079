package trace

import (
	"context"
	"testing"
	"time"
)

func TestStartSpanRoot(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "detect")
	defer span.End()

	if span.Ctx.TraceID == "" || span.Ctx.SpanID == "" {
		t.Error("root span missing ids")
	}
	if span.Ctx.ParentSpanID != "" {
		t.Errorf("root span has parent %q", span.Ctx.ParentSpanID)
	}

	tc, ok := FromContext(ctx)
	if !ok {
		t.Fatal("context missing trace context")
	}
	if tc.SpanID != span.Ctx.SpanID {
		t.Errorf("context span id %q, want %q", tc.SpanID, span.Ctx.SpanID)
	}
}

func TestStartSpanChild(t *testing.T) {
	ctx, parent := StartSpan(context.Background(), "ensure")
	defer parent.End()

	_, child := StartSpan(ctx, "popup_scan")
	defer child.End()

	if child.Ctx.TraceID != parent.Ctx.TraceID {
		t.Errorf("child trace id %q, want parent's %q", child.Ctx.TraceID, parent.Ctx.TraceID)
	}
	if child.Ctx.ParentSpanID != parent.Ctx.SpanID {
		t.Errorf("child parent span %q, want %q", child.Ctx.ParentSpanID, parent.Ctx.SpanID)
	}
	if child.Ctx.SpanID == parent.Ctx.SpanID {
		t.Error("child reused parent span id")
	}
}

func TestSpanDuration(t *testing.T) {
	_, span := StartSpan(context.Background(), "work")
	if span.Duration() != 0 {
		t.Error("duration before End should be 0")
	}
	time.Sleep(time.Millisecond)
	span.End()
	if span.Duration() <= 0 {
		t.Errorf("Duration() = %v, want > 0", span.Duration())
	}
}

func TestLoggerWithoutContext(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Error("Logger should fall back to default")
	}
}
