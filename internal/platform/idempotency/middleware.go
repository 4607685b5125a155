package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/subscription-ordering/api/internal/platform/auth"
	"github.com/subscription-ordering/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymous         = "anonymous"
)

// Logger receives persistence failures the client cannot see.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type guard struct {
	store    Store
	next     http.Handler
	header   string
	ttl      time.Duration
	methods  map[string]bool
	optional bool
	clock    clockFunc
	logger   Logger
}

type MiddlewareOption func(*guard)

// WithHeader sets the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithOptionalKey lets requests without a key through unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.optional = true }
}

// WithTTL sets how long stored responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded methods (POST, PUT, PATCH and DELETE by default).
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]bool, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				set[m] = true
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) { g.logger = logger }
}

func WithClock(clock clockFunc) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware makes mutating requests carrying an idempotency key safe to retry: the first
// response is stored and replayed to later requests with the same key, requester and body.
// Keys are scoped to the authenticated user, so it must run after authentication.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		g := &guard{
			store:  store,
			next:   next,
			header: defaultHeaderName,
			ttl:    DefaultTTL,
			methods: map[string]bool{
				http.MethodPost:   true,
				http.MethodPut:    true,
				http.MethodPatch:  true,
				http.MethodDelete: true,
			},
			clock: time.Now,
		}
		for _, opt := range opts {
			if opt != nil {
				opt(g)
			}
		}
		return g
	}
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.methods[r.Method] {
		g.next.ServeHTTP(w, r)
		return
	}
	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		if g.optional {
			g.next.ServeHTTP(w, r)
			return
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_key_required", "missing "+g.header+" header", http.StatusBadRequest))
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.Internal("idempotency_read_body_failed", err))
		return
	}

	requester := requesterID(r)
	scoped := requester + ":" + key
	fingerprint := fingerprintRequest(r, body, requester)

	reservation, err := g.store.Reserve(r.Context(), scoped, fingerprint, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	case err != nil:
		g.logf("idempotency: reserve %s: %v", key, err)
		httpx.WriteError(r.Context(), w, httpx.Internal("idempotency_store_error", err))
		return
	case reservation.State == ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case reservation.State == ReservationStatePending:
		httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	}

	rec := &bufferedResponse{header: make(http.Header)}
	defer func() {
		if p := recover(); p != nil {
			if err := g.store.Release(context.WithoutCancel(r.Context()), scoped, fingerprint); err != nil {
				g.logf("idempotency: release %s after panic: %v", key, err)
			}
			panic(p)
		}
	}()
	g.next.ServeHTTP(rec, r)

	resp := Response{Status: rec.statusCode(), Headers: rec.header, Body: rec.body.Bytes()}
	if err := g.store.SaveResponse(r.Context(), scoped, fingerprint, resp, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: save response for %s: %v", key, err)
		if err := g.store.Release(r.Context(), scoped, fingerprint); err != nil {
			g.logf("idempotency: release %s: %v", key, err)
		}
		httpx.WriteError(r.Context(), w, httpx.Internal("idempotency_store_error", err))
		return
	}
	rec.flushTo(w)
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requesterID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UserID != "" {
		return identity.UserID
	}
	return anonymous
}

func fingerprintRequest(r *http.Request, body []byte, requester string) string {
	parts := []string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		sha256Hex(body),
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// bufferedResponse holds the handler's response until it has been persisted.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
