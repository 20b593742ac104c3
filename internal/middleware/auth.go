// Package middleware provides HTTP middleware for the chat server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/capitalize-ai/listing-chat/internal/auth"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated participant identity.
	UserIDKey ContextKey = "user_id"
)

// TokenFromRequest extracts a credential from the Authorization bearer
// header, then the token query parameter, then the named cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

// Auth creates authentication middleware. Requests without a valid
// credential get 401.
func Auth(provider auth.Provider, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, cookieName)
			if token == "" {
				unauthorized(w, "missing credentials")
				return
			}

			identity, err := provider.VerifyCredential(r.Context(), token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			recordIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), identity)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `","code":"unauthenticated"}`))
}

// WithUserID returns a copy of ctx carrying identity.
func WithUserID(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, UserIDKey, identity)
}

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}
