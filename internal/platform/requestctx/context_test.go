package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	ctx := context.Background()
	if HasLogger(ctx) {
		t.Fatal("expected no logger on empty context")
	}
	if Logger(ctx) == nil {
		t.Fatal("expected noop logger, got nil")
	}

	logger := zap.NewExample()
	ctx = WithLogger(ctx, logger)
	if Logger(ctx) != logger || !HasLogger(ctx) {
		t.Fatal("expected stored logger")
	}
}

func TestTraceRoundTrip(t *testing.T) {
	if TraceID(context.Background()) != "" {
		t.Fatal("expected empty trace id")
	}
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "01", Sampled: true})
	info, ok := Trace(ctx)
	if !ok || info.TraceID != "abc" || !info.Sampled {
		t.Fatalf("unexpected trace info %+v", info)
	}
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
}
