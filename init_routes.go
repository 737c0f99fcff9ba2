package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/serofero/server/config"
	"github.com/serofero/server/middleware"
	"github.com/serofero/server/services"
)

// initRoutes binds every endpoint to mux. Literal paths are registered
// before parameterised siblings so "/api/users/online" is not read as an id.
func initRoutes(mux *http.ServeMux, h *Handlers, authService services.AuthService, cfg *config.Config) {
	authMw := middleware.NewAuthMiddleware(authService)
	operatorMw := middleware.NewOperatorMiddleware(cfg.Security.OperatorIDs)

	auth := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(handler)
	}
	authOperator := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(operatorMw.Require(handler))
	}

	// Health & metrics
	mux.HandleFunc("GET /api/health", h.Health.Check)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Users
	mux.Handle("GET /api/users/me", auth(h.Auth.Me))
	mux.Handle("GET /api/users/online", auth(h.Presence.Online))
	mux.Handle("GET /api/users/{id}/presence", auth(h.Presence.Get))

	// Messages
	mux.Handle("POST /api/messages", auth(h.Message.Create))

	// Calls
	mux.Handle("POST /api/calls", auth(h.Call.Initiate))
	mux.Handle("GET /api/calls", auth(h.Call.List))
	mux.Handle("GET /api/calls/{id}/health", auth(h.Call.Health))
	mux.Handle("POST /api/calls/{id}/heartbeat", auth(h.Call.Heartbeat))
	mux.Handle("POST /api/calls/{id}/encrypt", auth(h.Call.Encrypt))
	mux.Handle("POST /api/calls/{id}/decrypt", auth(h.Call.Decrypt))
	mux.Handle("DELETE /api/calls/{id}", auth(h.Call.End))

	// Security event log
	mux.Handle("GET /api/security/events", authOperator(h.Security.Events))

	// Locally stored media
	mux.HandleFunc("GET /api/uploads/{name}", h.Upload.Serve)

	// WebSocket. Browsers cannot send headers on the handshake, so the
	// authenticated endpoint reads the token from ?token=.
	mux.HandleFunc("GET /ws", h.AnonWS.HandleConnection)
	mux.HandleFunc("GET /ws/{user_id}", h.WS.HandleConnection)
}
