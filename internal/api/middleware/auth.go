package middleware

import (
	"context"
	"net/http"

	"github.com/edvin/conduit/internal/api/response"
	"github.com/edvin/conduit/internal/model"
)

type contextKey string

const identityKey contextKey = "api_key_identity"

// KeyValidator is the slice of the key registry the auth middleware needs.
type KeyValidator interface {
	Validate(ctx context.Context, secret string) (*model.APIKey, error)
}

// GetKey returns the authenticated API key stored by Auth, or nil.
func GetKey(ctx context.Context) *model.APIKey {
	key, _ := ctx.Value(identityKey).(*model.APIKey)
	return key
}

// UserID returns the authenticated caller's user ID, or "".
func UserID(ctx context.Context) string {
	if key := GetKey(ctx); key != nil {
		return key.UserID
	}
	return ""
}

// Auth validates the X-API-Key header and stores the key in the request
// context. Every failure mode yields the same generic message.
func Auth(keys KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := r.Header.Get("X-API-Key")
			if secret == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			key, err := keys.Validate(r.Context(), secret)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth guards the privileged catalog endpoints with a static bearer
// token. Admin calls are outside the caller-facing key model.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				response.WriteError(w, http.StatusForbidden, "admin API is disabled")
				return
			}
			if r.Header.Get("Authorization") != "Bearer "+token {
				response.WriteError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
