package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/subscription-ordering/api/internal/platform/requestctx"
)

func TestMiddlewarePropagatesCloudTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var seen requestctx.TraceInfo
	handler := Middleware(zap.New(core), "demo-project")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
		requestctx.Logger(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen.TraceID != "105445aa7843bc8bf206b12000100000" || seen.ProjectID != "demo-project" || !seen.Sampled {
		t.Fatalf("unexpected trace info %+v", seen)
	}
	if got := rec.Header().Get(cloudTraceHeader); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected trace header %q", got)
	}

	inside := logs.FilterMessage("inside handler").All()
	if len(inside) != 1 {
		t.Fatalf("expected handler log entry, got %d", len(inside))
	}
	fields := inside[0].ContextMap()
	if fields["logging.googleapis.com/trace"] != "projects/demo-project/traces/105445aa7843bc8bf206b12000100000" {
		t.Fatalf("missing trace correlation field: %v", fields)
	}

	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 || done[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected one info access log, got %+v", done)
	}
	if status := done[0].ContextMap()["status"]; status != int64(http.StatusNoContent) {
		t.Fatalf("unexpected logged status %v", status)
	}
}

func TestMiddlewareAcceptsTraceparent(t *testing.T) {
	var seen requestctx.TraceInfo
	handler := Middleware(nil, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" || seen.SpanID != "00f067aa0ba902b7" {
		t.Fatalf("unexpected trace info %+v", seen)
	}
}

func TestMiddlewareRecoversPanics(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := Middleware(zap.New(core), "")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal_server_error" || body["status"] != "error" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("expected panic log entry")
	}
	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 || done[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error access log, got %+v", done)
	}
}

func TestMiddlewareLogsClientErrorsAsWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := Middleware(zap.New(core), "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 || done[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn access log, got %+v", done)
	}
}

func TestParseCloudTrace(t *testing.T) {
	tests := []struct {
		header string
		ok     bool
	}{
		{header: "105445aa7843bc8bf206b12000100000/2;o=0", ok: true},
		{header: "105445aa7843bc8bf206b12000100000/18446744073709551615", ok: true},
		{header: "105445aa7843bc8bf206b12000100000", ok: false},
		{header: "nothex/1;o=1", ok: false},
		{header: "105445aa7843bc8bf206b12000100000/0;o=1", ok: false},
		{header: "", ok: false},
	}
	for _, tc := range tests {
		sc, ok := parseCloudTrace(tc.header)
		if ok != tc.ok {
			t.Fatalf("%q: expected ok=%v", tc.header, tc.ok)
		}
		if ok && formatCloudTrace(sc)[:32] != tc.header[:32] {
			t.Fatalf("%q: trace id not preserved: %s", tc.header, formatCloudTrace(sc))
		}
	}
}

func TestCleanStripsControlCharacters(t *testing.T) {
	if got := clean("/orders\n\x1b[31mforged", 180); got != "/orders[31mforged" {
		t.Fatalf("unexpected cleaned value %q", got)
	}
	if got := clean("abcdef", 3); got != "abc" {
		t.Fatalf("expected truncation, got %q", got)
	}
}
