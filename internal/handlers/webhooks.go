package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/subscription-ordering/api/internal/platform/observability"
	"github.com/subscription-ordering/api/internal/webhooks"
)

const (
	maxWebhookBody         = 64 * 1024
	stripeSignatureHeader  = "Stripe-Signature"
	webhookErrorBodyPrefix = "Webhook Error: "
)

// WebhookDispatcher handles one verified delivery.
type WebhookDispatcher interface {
	Name() string
	Dispatch(ctx context.Context, payload []byte, signature string) webhooks.Result
}

// WebhookHandlers mounts one POST endpoint per dispatcher, named after the dispatcher.
type WebhookHandlers struct {
	dispatchers []WebhookDispatcher
}

// NewWebhookHandlers constructs webhook handlers. Nil dispatchers are skipped.
func NewWebhookHandlers(dispatchers ...WebhookDispatcher) *WebhookHandlers {
	h := &WebhookHandlers{}
	for _, d := range dispatchers {
		if d != nil {
			h.dispatchers = append(h.dispatchers, d)
		}
	}
	return h
}

// Routes registers POST /{endpoint} for every dispatcher.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	for _, d := range h.dispatchers {
		r.Post("/"+strings.Trim(d.Name(), "/"), h.handle(d))
	}
}

func (h *WebhookHandlers) handle(d WebhookDispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := readWebhookBody(r)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writePlainText(w, status, webhookErrorBodyPrefix+err.Error())
			return
		}

		result := d.Dispatch(r.Context(), payload, r.Header.Get(stripeSignatureHeader))
		if result.Status >= http.StatusInternalServerError {
			observability.FromContext(r.Context()).Error("webhook dispatch failed",
				zap.String("endpoint", d.Name()),
				zap.String("event_id", result.EventID),
				zap.String("event_type", result.EventType),
			)
		}
		writePlainText(w, result.Status, result.Body)
	}
}

// readWebhookBody returns the body byte-for-byte; signature verification depends on it.
func readWebhookBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxWebhookBody {
		return nil, errBodyTooLarge
	}
	if len(data) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

func writePlainText(w http.ResponseWriter, status int, body string) {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if body != "" {
		_, _ = io.WriteString(w, body)
	}
}
