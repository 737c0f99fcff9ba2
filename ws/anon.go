package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/serofero/server/pkg/metrics"
)

// AnonHub serves the unauthenticated /ws endpoint: every text frame is
// relayed verbatim to all other anonymous connections. It is a separate
// registry and never reaches authenticated users.
type AnonHub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewAnonHub creates the anonymous relay.
func NewAnonHub(allowedOrigins []string, log *zap.Logger) *AnonHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnonHub{
		clients:  make(map[*Client]struct{}),
		upgrader: newUpgrader(allowedOrigins),
		log:      log.Named("ws.anon"),
	}
}

// HandleConnection upgrades and relays until the peer disconnects.
func (a *AnonHub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newClient(0, conn, a.log)
	a.add(c)
	defer a.remove(c)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepalive()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		a.relay(c, data)
	}
}

func (a *AnonHub) add(c *Client) {
	a.mu.Lock()
	a.clients[c] = struct{}{}
	n := len(a.clients)
	a.mu.Unlock()
	metrics.AnonymousConnections.Set(float64(n))
}

func (a *AnonHub) remove(c *Client) {
	a.mu.Lock()
	delete(a.clients, c)
	n := len(a.clients)
	a.mu.Unlock()
	metrics.AnonymousConnections.Set(float64(n))
	c.close()
}

func (a *AnonHub) relay(from *Client, data []byte) {
	a.mu.RLock()
	targets := make([]*Client, 0, len(a.clients))
	for c := range a.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	a.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, data); err != nil {
			a.log.Debug("relay failed", zap.Error(err))
			a.remove(c)
		}
	}
}

// Len returns the number of anonymous connections.
func (a *AnonHub) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients)
}

// Shutdown closes every anonymous connection.
func (a *AnonHub) Shutdown() {
	a.mu.Lock()
	clients := a.clients
	a.clients = make(map[*Client]struct{})
	a.mu.Unlock()

	for c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	metrics.AnonymousConnections.Set(0)
}
