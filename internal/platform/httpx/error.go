package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/subscription-ordering/api/internal/platform/requestctx"
)

const (
	// StatusFail marks client errors (4xx) in the response envelope.
	StatusFail = "fail"
	// StatusError marks server errors (5xx) in the response envelope.
	StatusError = "error"
	// StatusSuccess marks successful responses.
	StatusSuccess = "success"

	serverErrorMessage = "Server error"
)

var exposeDetails atomic.Bool

// ExposeErrorDetails toggles whether 5xx responses carry the underlying error text.
// Only development environments should enable it.
func ExposeErrorDetails(enabled bool) {
	exposeDetails.Store(enabled)
}

// Error represents the canonical JSON error envelope returned by the API.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
	Cause     error
}

// NewError constructs a new Error with the provided parameters.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// Internal wraps an unexpected failure as a 500 response.
func Internal(code string, cause error) Error {
	e := NewError(code, serverErrorMessage, http.StatusInternalServerError)
	e.Cause = cause
	return e
}

// WithRequestID sets the request identifier on the error payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = sanitize(id, 80)
	return e
}

// WithTraceID sets the trace identifier on the error payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = sanitize(id, 64)
	return e
}

// WithCause records the underlying error; it is only rendered for 5xx responses in development.
func (e Error) WithCause(err error) Error {
	e.Cause = err
	return e
}

// WithDetails attaches additional JSON-serialisable metadata.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	copyDetails := make(map[string]any, len(details))
	for k, v := range details {
		copyDetails[k] = v
	}
	e.Details = copyDetails
	return e
}

// StatusLabel returns the envelope discriminant for an HTTP status code.
func StatusLabel(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return StatusError
	case status >= http.StatusBadRequest:
		return StatusFail
	default:
		return StatusSuccess
	}
}

// WriteError writes the structured error as JSON to the provided response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	requestID := err.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), 80)
	}

	traceID := err.TraceID
	if traceID == "" {
		traceID = sanitize(requestctx.TraceID(ctx), 64)
	}

	message := err.Message
	if status >= http.StatusInternalServerError {
		message = serverErrorMessage
	}

	payload := map[string]any{
		"status":  StatusLabel(status),
		"message": message,
	}
	if err.Code != "" {
		payload["error"] = err.Code
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	for k, v := range err.Details {
		payload[k] = v
	}
	if status >= http.StatusInternalServerError && exposeDetails.Load() {
		detail := err.Message
		if err.Cause != nil {
			detail = err.Cause.Error()
		}
		if detail != "" && detail != serverErrorMessage {
			payload["details"] = sanitize(detail, 1024)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
