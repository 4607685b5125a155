package auth

import (
	"context"
	"strings"
)

// Role constants mirror the user roles stored on user documents.
const (
	RoleClient   = "client"
	RoleSupplier = "supplier"
	RoleAdmin    = "admin"
)

// Authentication methods recorded on Identity.
const (
	MethodSession = "session"
	MethodGoogle  = "google"
)

// Identity captures the authenticated user resolved from a bearer token.
type Identity struct {
	UserID string
	Email  string
	Role   string
	Method string
}

// HasRole reports whether the identity carries the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && normaliseRole(i.Role) == role
}

// HasAnyRole reports whether the identity carries any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type contextKey string

const identityContextKey contextKey = "github.com/subscription-ordering/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
