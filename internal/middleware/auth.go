// Package middleware provides HTTP middlewares for authentication, request
// throttling and logging.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const userKey ctxKey = "user"

// TokenParser validates a session token and returns its subject.
type TokenParser interface {
	Parse(token string) (string, error)
}

// SessionAuth is a middleware that requires a valid bearer session token.
//
// The token subject is stored in the request context and can be read
// downstream with GetUserIDFromContext.
func SessionAuth(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing session token", http.StatusUnauthorized)
				return
			}
			sub, err := parser.Parse(token)
			if err != nil {
				http.Error(w, "invalid session token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}

// WithUserID returns a copy of ctx carrying the authenticated identity.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey, id)
}

// GetUserIDFromContext extracts the authenticated identity from the
// request context. Returns an empty string if not found.
func GetUserIDFromContext(ctx context.Context) string {
	val := ctx.Value(userKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
