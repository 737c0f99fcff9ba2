package main

import (
	"go.uber.org/zap"

	"github.com/serofero/server/config"
	"github.com/serofero/server/pkg/ratelimit"
	"github.com/serofero/server/services"
	"github.com/serofero/server/ws"
)

// Services groups the service instances handed to handlers.
type Services struct {
	Auth     services.AuthService
	Security services.CallSecurityManager
	Call     services.CallService
	Message  services.MessageService
	Janitor  *services.CallJanitor
}

// RateLimiters groups the limiters so shutdown can stop their cleanup loops.
type RateLimiters struct {
	Message *ratelimit.MessageRateLimiter
	WSAuth  *ratelimit.AuthFailureLimiter
}

func initServices(repos *Repositories, infra *Infra, hub *ws.Hub, cfg *config.Config, log *zap.Logger) (*Services, error) {
	security := services.NewCallSecurityManager(
		services.CallSecurityConfig{
			MaxCallsPerWindow: cfg.Calls.MaxCallsPerWindow,
			RateWindow:        cfg.Calls.RateWindow,
			ReplayWindow:      cfg.Calls.ReplayWindow,
			StaleAfter:        cfg.Calls.StaleAfter,
			CleanupAfter:      cfg.Calls.CleanupAfter,
			EventLogSize:      cfg.Calls.EventLogSize,
		},
		repos.Block,
		repos.Friendship,
		infra.Alerts,
		log.Named("callsec"),
	)

	janitor, err := services.NewCallJanitor(security, cfg.Calls.CleanupSchedule, log)
	if err != nil {
		return nil, err
	}

	messages := services.NewMessageService(
		repos.Message,
		repos.MessageTx,
		repos.User,
		repos.Block,
		infra.Cipher,
		infra.Media,
		hub,
		services.MessageServiceConfig{
			TempDir:       cfg.Upload.TempDir,
			MaxUploadSize: cfg.Upload.MaxSize,
			UploadTimeout: cfg.Upload.Timeout,
			UploadRetries: cfg.Upload.Retries,
		},
		log,
	)

	return &Services{
		Auth:     services.NewAuthService(repos.User, cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry),
		Security: security,
		Call:     services.NewCallService(security, repos.User),
		Message:  messages,
		Janitor:  janitor,
	}, nil
}

func initRateLimiters(cfg *config.Config) *RateLimiters {
	return &RateLimiters{
		Message: ratelimit.NewMessageRateLimiter(cfg.Limits.MessagesPerWindow, cfg.Limits.MessageWindow, cfg.Limits.MessageCooldown),
		WSAuth:  ratelimit.NewAuthFailureLimiter(cfg.Limits.WSAuthFailures, cfg.Limits.WSAuthFailureWindow),
	}
}

func (l *RateLimiters) Close() {
	l.Message.Close()
	l.WSAuth.Close()
}
