package main

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/serofero/server/config"
	"github.com/serofero/server/handlers"
	"github.com/serofero/server/ws"
)

// Handlers groups every HTTP and WebSocket handler.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Presence *handlers.PresenceHandler
	Message  *handlers.MessageHandler
	Call     *handlers.CallHandler
	Security *handlers.SecurityHandler
	Health   *handlers.HealthHandler
	Upload   *handlers.UploadHandler
	WS       *ws.Handler
	AnonWS   *ws.AnonHub
}

func initHandlers(
	svcs *Services,
	limiters *RateLimiters,
	hub *ws.Hub,
	db *sql.DB,
	cfg *config.Config,
	log *zap.Logger,
) *Handlers {
	return &Handlers{
		Auth:     handlers.NewAuthHandler(),
		Presence: handlers.NewPresenceHandler(hub),
		Message:  handlers.NewMessageHandler(svcs.Message, limiters.Message, cfg.Upload.MaxSize),
		Call:     handlers.NewCallHandler(svcs.Call),
		Security: handlers.NewSecurityHandler(svcs.Security),
		Health:   handlers.NewHealthHandler(db),
		Upload:   handlers.NewUploadHandler(cfg.Media.LocalDir),
		WS:       ws.NewHandler(hub, svcs.Auth, svcs.Security, limiters.WSAuth, cfg.Server.CORSOrigins, log),
		AnonWS:   ws.NewAnonHub(cfg.Server.CORSOrigins, log),
	}
}
