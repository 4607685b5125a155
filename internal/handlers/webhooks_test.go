package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/subscription-ordering/api/internal/webhooks"
)

type stubDispatcher struct {
	name      string
	result    webhooks.Result
	payload   []byte
	signature string
	calls     int
}

func (d *stubDispatcher) Name() string { return d.name }

func (d *stubDispatcher) Dispatch(_ context.Context, payload []byte, signature string) webhooks.Result {
	d.calls++
	d.payload = payload
	d.signature = signature
	return d.result
}

func newWebhookRouter(dispatchers ...WebhookDispatcher) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(dispatchers...).Routes)
	return router
}

func TestWebhookHandlersPassRawBodyAndSignature(t *testing.T) {
	primary := &stubDispatcher{name: "main-account", result: webhooks.Result{Status: http.StatusOK}}
	connected := &stubDispatcher{name: "connected-account", result: webhooks.Result{Status: http.StatusOK}}
	router := newWebhookRouter(primary, connected)

	payload := "{\"id\":\"evt_1\",  \"type\":\"invoice.payment_succeeded\"}\n"
	req := httptest.NewRequest(http.MethodPost, "/webhooks/connected-account", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Fatalf("expected empty 200, got %d %q", rr.Code, rr.Body.String())
	}
	if connected.calls != 1 || primary.calls != 0 {
		t.Fatalf("expected only the connected dispatcher to run, got main=%d connected=%d", primary.calls, connected.calls)
	}
	if string(connected.payload) != payload {
		t.Fatalf("payload must reach the dispatcher unchanged, got %q", connected.payload)
	}
	if connected.signature != "t=1,v1=abc" {
		t.Fatalf("unexpected signature %q", connected.signature)
	}
}

func TestWebhookHandlersWriteResultAsPlainText(t *testing.T) {
	primary := &stubDispatcher{name: "main-account", result: webhooks.Result{
		Status: http.StatusBadRequest,
		Body:   "Webhook Error: No signatures found matching the expected signature for payload",
	}}
	router := newWebhookRouter(primary)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/main-account", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected plain text, got %q", ct)
	}
	if rr.Body.String() != primary.result.Body {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestWebhookHandlersRejectOversizedBody(t *testing.T) {
	primary := &stubDispatcher{name: "main-account", result: webhooks.Result{Status: http.StatusOK}}
	router := newWebhookRouter(primary)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/main-account", bytes.NewReader(bytes.Repeat([]byte("a"), maxWebhookBody+1)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge || primary.calls != 0 {
		t.Fatalf("expected 413 without dispatch, got %d calls=%d", rr.Code, primary.calls)
	}
	if !strings.HasPrefix(rr.Body.String(), "Webhook Error: ") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestWebhookHandlersRejectEmptyBody(t *testing.T) {
	primary := &stubDispatcher{name: "main-account", result: webhooks.Result{Status: http.StatusOK}}
	router := newWebhookRouter(primary)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/main-account", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest || primary.calls != 0 {
		t.Fatalf("expected 400 without dispatch, got %d calls=%d", rr.Code, primary.calls)
	}
}
