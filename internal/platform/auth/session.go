package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// DefaultSessionTTL matches the 90 day lifetime of issued session tokens.
const DefaultSessionTTL = 90 * 24 * time.Hour

// SessionClaims is the payload of an API session token.
type SessionClaims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// SessionTokens issues and verifies HS256 session tokens.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// SessionOption customises SessionTokens.
type SessionOption func(*SessionTokens)

// WithSessionTTL overrides the token lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *SessionTokens) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionClock injects a custom clock used for issuing tokens.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionTokens) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSessionTokens constructs a token issuer bound to the shared secret.
func NewSessionTokens(secret string, opts ...SessionOption) (*SessionTokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: session secret is required")
	}
	tokens := &SessionTokens{
		secret: []byte(secret),
		ttl:    DefaultSessionTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tokens)
		}
	}
	return tokens, nil
}

// Issue signs a token carrying the user id.
func (s *SessionTokens) Issue(userID string) (string, error) {
	if s == nil {
		return "", errors.New("auth: session tokens not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("auth: user id is required")
	}
	now := s.now().UTC()
	claims := SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign session token: %w", err)
	}
	return signed, nil
}

// Verify validates the signature and expiry and returns the embedded claims.
func (s *SessionTokens) Verify(raw string) (SessionClaims, error) {
	if s == nil {
		return SessionClaims{}, ErrTokenInvalid
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	var claims SessionClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if isExpired(err) {
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, fmt.Errorf("%w: missing id claim", ErrTokenInvalid)
	}
	return claims, nil
}

func isExpired(err error) bool {
	var ve *jwt.ValidationError
	return errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0
}
