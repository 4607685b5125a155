package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/subscription-ordering/api/internal/platform/auth"
	"github.com/subscription-ordering/api/internal/platform/httpx"
	"github.com/subscription-ordering/api/internal/platform/observability"
)

const maxAuthRequestBody = 8 * 1024

// GoogleSignIn exchanges a Google ID token for an API session.
type GoogleSignIn interface {
	SignInWithGoogle(ctx context.Context, idToken string) (auth.Session, error)
}

// AuthHandlers issues session tokens.
type AuthHandlers struct {
	google GoogleSignIn
}

func NewAuthHandlers(google GoogleSignIn) *AuthHandlers {
	return &AuthHandlers{google: google}
}

// Routes registers POST /google.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/google", h.signInWithGoogle)
}

type googleSignInRequest struct {
	IDToken string `json:"idToken"`
}

type sessionUserPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type sessionPayload struct {
	User sessionUserPayload `json:"user"`
	JWT  string             `json:"jwt"`
}

type sessionResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    sessionPayload `json:"data"`
}

func (h *AuthHandlers) signInWithGoogle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.google == nil {
		httpx.WriteError(ctx, w, httpx.NewError("google_sign_in_unavailable", "Google sign-in is not enabled", http.StatusServiceUnavailable))
		return
	}

	var req googleSignInRequest
	if !decodeJSONBody(ctx, w, r, maxAuthRequestBody, &req) {
		return
	}
	if req.IDToken == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "idToken is required", http.StatusBadRequest))
		return
	}

	session, err := h.google.SignInWithGoogle(ctx, req.IDToken)
	if err != nil {
		writeSignInError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponse{
		Status:  httpx.StatusSuccess,
		Message: "Login success",
		Data: sessionPayload{
			User: sessionUserPayload{ID: session.User.ID, Email: session.User.Email, Role: session.User.Role},
			JWT:  session.Token,
		},
	})
}

func writeSignInError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		httpx.WriteError(ctx, w, httpx.NewError("token_expired", "Token expired", http.StatusUnauthorized))
	case errors.Is(err, auth.ErrTokenInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "Invalid token", http.StatusUnauthorized))
	case errors.Is(err, auth.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "No user is registered with this email", http.StatusUnauthorized))
	case errors.Is(err, auth.ErrGoogleSignInDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("google_sign_in_unavailable", "Google sign-in is not enabled", http.StatusServiceUnavailable))
	case errors.Is(err, auth.ErrJWKSFetchFailed):
		observability.FromContext(ctx).Warn("google signing keys unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "Server error", http.StatusServiceUnavailable).WithCause(err))
	default:
		observability.FromContext(ctx).Error("google sign-in failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.Internal("sign_in_failed", err))
	}
}
