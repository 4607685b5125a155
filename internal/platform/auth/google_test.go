package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const testGoogleClientID = "client-123.apps.googleusercontent.com"

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) contains(fragment string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}

func jwksServer(t *testing.T, key *rsa.PrivateKey, kid string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     kid,
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=600, must-revalidate")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestJWKSCacheReusesKeysUntilExpiry(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits atomic.Int32
	server := jwksServer(t, key, "key1", &hits)

	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now }))

	got, err := cache.Key(context.Background(), "key1")
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}
	if _, err := cache.Key(context.Background(), "key1"); err != nil {
		t.Fatalf("Key second call: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", hits.Load())
	}

	if _, err := cache.Key(context.Background(), "rotated"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected key not found, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("unknown kid within backoff should not refetch, got %d fetches", hits.Load())
	}

	now = now.Add(11 * time.Minute)
	if _, err := cache.Key(context.Background(), "key1"); err != nil {
		t.Fatalf("Key after expiry: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected refetch after max-age, got %d fetches", hits.Load())
	}
}

func TestMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=600":  10 * time.Minute,
		"MAX-AGE=5":            5 * time.Second,
		"no-store":             0,
		"max-age=abc, private": 0,
		"":                     0,
	}
	for header, want := range cases {
		if got := maxAge(header); got != want {
			t.Fatalf("maxAge(%q) = %s, want %s", header, got, want)
		}
	}
}

func TestGoogleIDTokenVerifierAcceptsValidToken(t *testing.T) {
	verifier, _, token := setupGoogleTest(t, nil)

	claims, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Email != "ada@example.com" || claims.Subject != "google-sub-1" || !claims.EmailVerified {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestGoogleIDTokenVerifierRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(jwt.MapClaims)
		reason string
		target error
	}{
		{
			name:   "audience mismatch",
			mutate: func(c jwt.MapClaims) { c["aud"] = "someone-else" },
			reason: "audience_mismatch",
			target: ErrTokenInvalid,
		},
		{
			name:   "issuer mismatch",
			mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" },
			reason: "issuer_mismatch",
			target: ErrTokenInvalid,
		},
		{
			name:   "unverified email",
			mutate: func(c jwt.MapClaims) { c["email_verified"] = "false" },
			reason: "email_unverified",
			target: ErrTokenInvalid,
		},
		{
			name: "expired",
			mutate: func(c jwt.MapClaims) {
				c["exp"] = float64(time.Unix(1_700_000_000, 0).Add(-time.Minute).Unix())
			},
			reason: "token_expired",
			target: ErrTokenExpired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verifier, logs, token := setupGoogleTest(t, tc.mutate)
			if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if !logs.contains("(" + tc.reason + ")") {
				t.Fatalf("expected %s to be logged, got %v", tc.reason, logs.lines)
			}
		})
	}
}

func TestGoogleIDTokenVerifierJWKSUnavailable(t *testing.T) {
	_, _, token := setupGoogleTest(t, nil)
	logs := &recordingLogger{}
	verifier := NewGoogleIDTokenVerifier(NewJWKSCache("http://127.0.0.1:1/certs"), testGoogleClientID, WithGoogleLogger(logs))

	if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, ErrJWKSFetchFailed) {
		t.Fatalf("expected jwks failure, got %v", err)
	}
	if !logs.contains("(jwks_unavailable)") {
		t.Fatalf("expected jwks_unavailable log, got %v", logs.lines)
	}
}

func setupGoogleTest(t *testing.T, mutate func(jwt.MapClaims)) (*GoogleIDTokenVerifier, *recordingLogger, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server := jwksServer(t, key, "google-key", nil)

	now := time.Unix(1_700_000_000, 0)
	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = original })

	logs := &recordingLogger{}
	verifier := NewGoogleIDTokenVerifier(
		NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now })),
		testGoogleClientID,
		WithGoogleLogger(logs),
	)

	claims := jwt.MapClaims{
		"aud":            testGoogleClientID,
		"iss":            "https://accounts.google.com",
		"sub":            "google-sub-1",
		"email":          "Ada@Example.com",
		"email_verified": true,
		"exp":            float64(now.Add(time.Hour).Unix()),
		"iat":            float64(now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "google-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return verifier, logs, signed
}
