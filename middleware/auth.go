// Package middleware holds the HTTP middlewares. Each is a
// func(next http.Handler) http.Handler that either calls next or answers
// the request itself.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/serofero/server/handlers"
	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
)

// UserResolver turns a bearer token into an active user.
// services.AuthService satisfies it.
type UserResolver interface {
	ResolveUser(ctx context.Context, token string) (*models.User, error)
}

// AuthMiddleware requires "Authorization: Bearer <token>".
type AuthMiddleware struct {
	users UserResolver
}

func NewAuthMiddleware(users UserResolver) *AuthMiddleware {
	return &AuthMiddleware{users: users}
}

// Require rejects the request with 401 unless the token resolves to an
// active user, which is then stored under handlers.UserContextKey.
func (m *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "invalid authorization format, use: Bearer <token>")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		user, err := m.users.ResolveUser(r.Context(), token)
		if err != nil {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "could not validate credentials")
			return
		}

		ctx := context.WithValue(r.Context(), handlers.UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
