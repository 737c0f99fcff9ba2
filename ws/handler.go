package ws

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg/ratelimit"
)

// Authenticator resolves a bearer token to an active user.
//
// Declared here rather than importing services: services already depends
// on ws for delivery, so ws only sees the one method it calls.
type Authenticator interface {
	ResolveUser(ctx context.Context, token string) (*models.User, error)
}

// Handler serves the authenticated realtime endpoint /ws/{user_id}.
//
// One HandleConnection call owns one socket for its whole life: it
// authenticates, upgrades, then runs the session loop on the request
// goroutine until the peer leaves. The Hub counts these calls so shutdown
// can wait for them.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	calls    CallGuard
	failures *ratelimit.AuthFailureLimiter
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler builds the realtime handler. failures may be nil to disable
// per-IP throttling of failed handshakes. An empty allowedOrigins list, or
// one containing "*", accepts every origin.
func NewHandler(
	hub *Hub,
	auth Authenticator,
	calls CallGuard,
	failures *ratelimit.AuthFailureLimiter,
	allowedOrigins []string,
	log *zap.Logger,
) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:      hub,
		auth:     auth,
		calls:    calls,
		failures: failures,
		upgrader: newUpgrader(allowedOrigins),
		log:      log.Named("ws"),
	}
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			return allowed[origin]
		},
	}
}

// HandleConnection authenticates and serves one socket.
//
// The token travels in the query string because browsers cannot set
// headers on a WebSocket handshake:
//
//	ws://host/ws/42?token=JWT
//
// Verification happens before the upgrade. When it fails the socket is
// still upgraded so the client receives a 1008 close frame instead of an
// opaque handshake error. Once the Hub is shutting down new sockets get a
// 1001 close frame.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if !h.hub.beginSession() {
		h.reject(w, r, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.hub.endSession()

	s := newSession(h.hub, h.calls, h.log)
	ip := ratelimit.ExtractIP(r)

	s.setState(StateAuthenticating)
	user, reason := h.authenticate(r, ip)
	if user == nil {
		h.reject(w, r, websocket.ClosePolicyViolation, reason)
		s.setState(StateClosed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Int64("user_id", user.ID), zap.Error(err))
		s.setState(StateClosed)
		return
	}

	s.attach(newClient(user.ID, conn, h.log))
	s.run()
}

// authenticate returns the verified user, or nil and a close reason.
// Order matters: a blocked address is refused before the token is even
// parsed, and only a fully successful handshake clears the failure count.
func (h *Handler) authenticate(r *http.Request, ip string) (*models.User, string) {
	if h.failures != nil && h.failures.Blocked(ip) {
		return nil, "too many failed attempts"
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		h.fail(ip)
		return nil, "missing token"
	}

	user, err := h.auth.ResolveUser(r.Context(), token)
	if err != nil {
		h.log.Debug("token rejected", zap.String("ip", ip), zap.Error(err))
		h.fail(ip)
		return nil, "invalid token"
	}

	pathID, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil || pathID != user.ID {
		h.log.Warn("path user does not match token subject",
			zap.String("path_user_id", r.PathValue("user_id")),
			zap.Int64("token_user_id", user.ID))
		h.fail(ip)
		return nil, "user mismatch"
	}

	if h.failures != nil {
		h.failures.Reset(ip)
	}
	return user, ""
}

func (h *Handler) fail(ip string) {
	if h.failures != nil {
		h.failures.Fail(ip)
	}
}

// reject upgrades only to deliver a close frame with code and reason.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := newClient(0, conn, h.log)
	client.closeWith(code, reason)
}
