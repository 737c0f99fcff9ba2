package middleware

import (
	"net/http"

	"github.com/serofero/server/handlers"
	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
)

// OperatorMiddleware restricts a route to configured operator accounts.
// It runs after AuthMiddleware.
//
//	authMw.Require(operatorMw.Require(http.HandlerFunc(securityHandler.Events)))
type OperatorMiddleware struct {
	operators map[int64]bool
}

func NewOperatorMiddleware(operatorIDs []int64) *OperatorMiddleware {
	ops := make(map[int64]bool, len(operatorIDs))
	for _, id := range operatorIDs {
		ops[id] = true
	}
	return &OperatorMiddleware{operators: ops}
}

func (m *OperatorMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value(handlers.UserContextKey).(*models.User)
		if !ok {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
			return
		}

		if !m.operators[user.ID] {
			pkg.ErrorWithMessage(w, http.StatusForbidden, "operator access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}
