package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignInWithGoogleIssuesSession(t *testing.T) {
	verifier, _, token := setupGoogleTest(t, nil)
	// setupGoogleTest pins jwt.TimeFunc; issue from the same instant so iat is not in the future.
	sessions := newTestSessions(t, WithSessionClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	users := &stubUserLookup{byEmail: map[string]Principal{
		"ada@example.com": {ID: "user-9", Email: "ada@example.com", Role: RoleSupplier, Active: true},
	}}
	authn := NewAuthenticator(sessions, users, WithGoogleVerifier(verifier), WithAuthLogger(nopLogger{}))

	session, err := authn.SignInWithGoogle(context.Background(), token)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.User.ID != "user-9" || session.User.Role != RoleSupplier {
		t.Fatalf("unexpected user %+v", session.User)
	}
	claims, err := sessions.Verify(session.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.UserID != "user-9" {
		t.Fatalf("expected token for user-9, got %q", claims.UserID)
	}
}

func TestSignInWithGoogleFailures(t *testing.T) {
	verifier, _, token := setupGoogleTest(t, nil)
	known := &stubUserLookup{byEmail: map[string]Principal{
		"ada@example.com": {ID: "user-9", Email: "ada@example.com", Role: RoleClient},
	}}

	cases := []struct {
		name   string
		authn  *Authenticator
		token  string
		target error
	}{
		{
			name:   "google not configured",
			authn:  NewAuthenticator(newTestSessions(t), known),
			token:  token,
			target: ErrGoogleSignInDisabled,
		},
		{
			name:   "blank token",
			authn:  NewAuthenticator(newTestSessions(t), known, WithGoogleVerifier(verifier)),
			token:  "  ",
			target: ErrTokenInvalid,
		},
		{
			name:   "tampered token",
			authn:  NewAuthenticator(newTestSessions(t), known, WithGoogleVerifier(verifier)),
			token:  token + "x",
			target: ErrTokenInvalid,
		},
		{
			name:   "unknown email",
			authn:  NewAuthenticator(newTestSessions(t), &stubUserLookup{}, WithGoogleVerifier(verifier)),
			token:  token,
			target: ErrUserNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session, err := tc.authn.SignInWithGoogle(context.Background(), tc.token)
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if session.Token != "" {
				t.Fatalf("no token should be issued on failure")
			}
		})
	}
}
