// Package handlers holds the thin HTTP handlers: parse the request, call a
// service, write the JSON envelope. No business logic lives here.
package handlers

import (
	"net/http"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
)

// contextKey namespaces values stored on the request context.
type contextKey string

// UserContextKey carries the authenticated *models.User, set by
// middleware.AuthMiddleware.
const UserContextKey contextKey = "user"

// AuthHandler exposes the identity resolved from the bearer token.
type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me godoc
// GET /api/users/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	pkg.JSON(w, http.StatusOK, user)
}
