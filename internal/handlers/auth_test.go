package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/subscription-ordering/api/internal/platform/auth"
)

type stubGoogleSignIn struct {
	gotToken string
	session  auth.Session
	err      error
}

func (s *stubGoogleSignIn) SignInWithGoogle(_ context.Context, idToken string) (auth.Session, error) {
	s.gotToken = idToken
	return s.session, s.err
}

func newAuthRouter(google GoogleSignIn) chi.Router {
	router := chi.NewRouter()
	router.Route("/auth", NewAuthHandlers(google).Routes)
	return router
}

func TestAuthHandlersGoogleSignIn(t *testing.T) {
	stub := &stubGoogleSignIn{session: auth.Session{
		Token: "session-jwt",
		User:  auth.Principal{ID: "user-9", Email: "ada@example.com", Role: auth.RoleSupplier},
	}}

	rr, body := serveOrders(t, newAuthRouter(stub), http.MethodPost, "/auth/google", `{"idToken":"google-id-token"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rr.Code, body)
	}
	if stub.gotToken != "google-id-token" {
		t.Fatalf("expected id token to be forwarded, got %q", stub.gotToken)
	}
	if body["status"] != "success" || body["message"] != "Login success" {
		t.Fatalf("unexpected envelope %v", body)
	}
	data, _ := body["data"].(map[string]any)
	if data["jwt"] != "session-jwt" {
		t.Fatalf("expected session token, got %v", data)
	}
	user, _ := data["user"].(map[string]any)
	if user["id"] != "user-9" || user["role"] != auth.RoleSupplier {
		t.Fatalf("unexpected user %v", user)
	}
}

func TestAuthHandlersGoogleSignInErrors(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		err     error
		status  int
		code    string
		message string
	}{
		{name: "missing token", body: `{}`, status: http.StatusBadRequest, code: "invalid_request", message: "idToken is required"},
		{name: "wrong token type", body: `{"idToken":42}`, status: http.StatusBadRequest, code: "invalid_request", message: "idToken must be a string"},
		{name: "invalid token", body: `{"idToken":"x"}`, err: fmt.Errorf("%w: bad signature", auth.ErrTokenInvalid), status: http.StatusUnauthorized, code: "invalid_token", message: "Invalid token"},
		{name: "expired token", body: `{"idToken":"x"}`, err: fmt.Errorf("%w: exp", auth.ErrTokenExpired), status: http.StatusUnauthorized, code: "token_expired", message: "Token expired"},
		{name: "unknown user", body: `{"idToken":"x"}`, err: auth.ErrUserNotFound, status: http.StatusUnauthorized, code: "user_not_found", message: "No user is registered with this email"},
		{name: "disabled", body: `{"idToken":"x"}`, err: auth.ErrGoogleSignInDisabled, status: http.StatusServiceUnavailable, code: "google_sign_in_unavailable", message: "Server error"},
		{name: "keys unavailable", body: `{"idToken":"x"}`, err: auth.ErrJWKSFetchFailed, status: http.StatusServiceUnavailable, code: "verification_unavailable", message: "Server error"},
		{name: "unexpected", body: `{"idToken":"x"}`, err: errors.New("firestore down"), status: http.StatusInternalServerError, code: "sign_in_failed", message: "Server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, body := serveOrders(t, newAuthRouter(&stubGoogleSignIn{err: tc.err}), http.MethodPost, "/auth/google", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %v", tc.status, rr.Code, body)
			}
			if body["error"] != tc.code || body["message"] != tc.message {
				t.Fatalf("expected %s/%q, got %v", tc.code, tc.message, body)
			}
		})
	}
}
