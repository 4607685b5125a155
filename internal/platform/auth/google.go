package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

// GoogleClaims is the identity taken from a verified Google ID token.
type GoogleClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Issuer        string
}

type googleTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
}

// GoogleIDTokenVerifier accepts RS256 ID tokens Google issued to one OAuth client.
type GoogleIDTokenVerifier struct {
	keys     *JWKSCache
	audience string
	logger   Logger
	outcomes metric.Int64Counter
}

type GoogleOption func(*GoogleIDTokenVerifier)

func NewGoogleIDTokenVerifier(keys *JWKSCache, clientID string, opts ...GoogleOption) *GoogleIDTokenVerifier {
	v := &GoogleIDTokenVerifier{
		keys:     keys,
		audience: strings.TrimSpace(clientID),
		logger:   nopLogger{},
	}
	WithGoogleMeter(otel.Meter("github.com/subscription-ordering/api/internal/platform/auth"))(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func WithGoogleLogger(logger Logger) GoogleOption {
	return func(v *GoogleIDTokenVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithGoogleMeter counts verifications as auth.google.verifications{result}.
func WithGoogleMeter(meter metric.Meter) GoogleOption {
	return func(v *GoogleIDTokenVerifier) {
		if meter == nil {
			return
		}
		if counter, err := meter.Int64Counter("auth.google.verifications"); err == nil {
			v.outcomes = counter
		}
	}
}

// Verify checks signature, expiry, issuer, audience and a verified email.
func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, raw string) (GoogleClaims, error) {
	claims, result, err := v.verify(ctx, raw)
	if v.outcomes != nil {
		v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
	if err != nil {
		v.logger.Printf("auth: google id token rejected (%s): %v", result, err)
	}
	return claims, err
}

func (v *GoogleIDTokenVerifier) verify(ctx context.Context, raw string) (GoogleClaims, string, error) {
	if v == nil || v.keys == nil || v.audience == "" {
		return GoogleClaims{}, "not_configured", fmt.Errorf("%w: google sign-in not configured", ErrTokenInvalid)
	}

	var tc googleTokenClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(raw, &tc, v.keys.Keyfunc(ctx)); err != nil {
		switch {
		case errors.Is(err, ErrJWKSFetchFailed):
			return GoogleClaims{}, "jwks_unavailable", err
		case errors.Is(err, jwt.ErrTokenExpired):
			return GoogleClaims{}, "token_expired", fmt.Errorf("%w: %v", ErrTokenExpired, err)
		default:
			return GoogleClaims{}, "token_invalid", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}

	if !googleIssuers[tc.Issuer] {
		return GoogleClaims{}, "issuer_mismatch", fmt.Errorf("%w: unexpected issuer %q", ErrTokenInvalid, tc.Issuer)
	}
	if !tc.VerifyAudience(v.audience, true) {
		return GoogleClaims{}, "audience_mismatch", fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	out := GoogleClaims{
		Subject: tc.Subject,
		Issuer:  tc.Issuer,
		Email:   strings.ToLower(strings.TrimSpace(tc.Email)),
	}
	switch verified := tc.EmailVerified.(type) {
	case bool:
		out.EmailVerified = verified
	case string:
		out.EmailVerified = strings.EqualFold(verified, "true")
	}
	if out.Email == "" || !out.EmailVerified {
		return GoogleClaims{}, "email_unverified", fmt.Errorf("%w: email missing or unverified", ErrTokenInvalid)
	}
	return out, "ok", nil
}
