package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const defaultVerifyTimeout = 5 * time.Second

const (
	messageTokenMissing = "Authorization token is missing or invalid"
	messageTokenInvalid = "Invalid token"
	messageTokenExpired = "Token expired"
	messageUserGone     = "The user belonging to this token no longer exists"
	messageForbidden    = "You are not allowed to do this action"
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrUserNotFound is returned by UserLookup implementations when no user matches.
	ErrUserNotFound = errors.New("auth: user not found")
)

// Principal is the subset of a stored user needed for authorisation decisions.
type Principal struct {
	ID     string
	Email  string
	Role   string
	Active bool
}

// UserLookup resolves the users referenced by verified tokens.
type UserLookup interface {
	UserByID(ctx context.Context, id string) (Principal, error)
	UserByEmail(ctx context.Context, email string) (Principal, error)
}

// Authenticator verifies bearer tokens and enforces role restrictions on routes.
type Authenticator struct {
	sessions *SessionTokens
	google   *GoogleIDTokenVerifier
	users    UserLookup
	logger   Logger
	timeout  time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithGoogleVerifier enables sign-in with Google ID tokens alongside session tokens.
func WithGoogleVerifier(verifier *GoogleIDTokenVerifier) Option {
	return func(a *Authenticator) {
		a.google = verifier
	}
}

// WithAuthLogger records verification failures.
func WithAuthLogger(logger Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens and loading users.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(sessions *SessionTokens, users UserLookup, opts ...Option) *Authenticator {
	a := &Authenticator{
		sessions: sessions,
		users:    users,
		timeout:  defaultVerifyTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// RequireAuth verifies the Authorization bearer token and ensures the user holds an allowed role.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", messageTokenMissing)
				return
			}
			if a == nil || a.sessions == nil || a.users == nil {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "Server error")
				return
			}

			ctx, cancel := a.contextWithTimeout(r.Context())
			if cancel != nil {
				defer cancel()
			}

			principal, method, err := a.resolve(ctx, tokenStr)
			if err != nil {
				a.logf("auth: bearer verification failed: %v", err)
				respondVerificationError(w, err)
				return
			}

			if len(allowed) > 0 {
				if _, ok := allowed[normaliseRole(principal.Role)]; !ok {
					respondAuthError(w, http.StatusForbidden, "forbidden", messageForbidden)
					return
				}
			}

			identity := &Identity{
				UserID: principal.ID,
				Email:  principal.Email,
				Role:   normaliseRole(principal.Role),
				Method: method,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) resolve(ctx context.Context, raw string) (Principal, string, error) {
	if a.google != nil && signingAlgorithm(raw) == jwt.SigningMethodRS256.Alg() {
		claims, err := a.google.Verify(ctx, raw)
		if err != nil {
			return Principal{}, MethodGoogle, err
		}
		principal, err := a.users.UserByEmail(ctx, claims.Email)
		return principal, MethodGoogle, err
	}

	claims, err := a.sessions.Verify(raw)
	if err != nil {
		return Principal{}, MethodSession, err
	}
	principal, err := a.users.UserByID(ctx, claims.UserID)
	return principal, MethodSession, err
}

func (a *Authenticator) contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *Authenticator) logf(format string, args ...any) {
	if a != nil && a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// signingAlgorithm peeks at the unverified header to route the token to the right verifier.
func signingAlgorithm(raw string) string {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil || token == nil || token.Method == nil {
		return ""
	}
	return token.Method.Alg()
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	label := "fail"
	if status >= http.StatusInternalServerError {
		label = "error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  label,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", messageTokenExpired)
	case errors.Is(err, ErrTokenInvalid):
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", messageTokenInvalid)
	case errors.Is(err, ErrUserNotFound):
		respondAuthError(w, http.StatusUnauthorized, "user_not_found", messageUserGone)
	case errors.Is(err, ErrJWKSFetchFailed):
		respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "Server error")
	default:
		respondAuthError(w, http.StatusInternalServerError, "internal_error", "Server error")
	}
}
