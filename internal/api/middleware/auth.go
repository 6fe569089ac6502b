package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/codex-team/hawk.events/internal/api/response"
)

// TokenVerifier is the external collaborator that validates access tokens
// and maps them to user ids. Token issuing and authorization live outside
// this service.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// Auth authenticates requests through a TokenVerifier.
type Auth struct {
	verifier TokenVerifier
}

// NewAuth creates the auth middleware.
func NewAuth(v TokenVerifier) *Auth {
	return &Auth{verifier: v}
}

// Authenticate validates the Bearer token and sets the user id in the
// request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		userID, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid access token", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), userID)))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
