package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrGoogleSignInDisabled is returned when no Google verifier is configured.
var ErrGoogleSignInDisabled = errors.New("auth: google sign-in not configured")

// Session is a freshly issued API session token and the user it belongs to.
type Session struct {
	Token string
	User  Principal
}

// SignInWithGoogle exchanges a Google ID token for an API session token. The
// user is matched by the token's verified email.
func (a *Authenticator) SignInWithGoogle(ctx context.Context, idToken string) (Session, error) {
	if a == nil || a.google == nil {
		return Session{}, ErrGoogleSignInDisabled
	}
	if a.sessions == nil || a.users == nil {
		return Session{}, errors.New("auth: authenticator not initialised")
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Session{}, fmt.Errorf("%w: id token is required", ErrTokenInvalid)
	}

	ctx, cancel := a.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}

	claims, err := a.google.Verify(ctx, idToken)
	if err != nil {
		return Session{}, err
	}
	principal, err := a.users.UserByEmail(ctx, claims.Email)
	if err != nil {
		return Session{}, err
	}
	token, err := a.sessions.Issue(principal.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, User: principal}, nil
}
