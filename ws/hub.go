package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/serofero/server/pkg/metrics"
)

// Hub is the connection registry: at most one live connection per user.
//
// Registering a second connection for the same user replaces the first
// (last writer wins) and closes the replaced socket. Sends never hold the
// registry lock while writing, so a slow peer cannot stall the registry.
//
// The Hub also counts running session loops. After Shutdown no new session
// may begin, and Wait blocks until the running ones have cleaned up, so
// nothing downstream (alerts, storage) is closed under a live frame.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]*Client
	closed  bool
	log     *zap.Logger

	sessions sync.WaitGroup
}

// NewHub creates an empty registry.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[int64]*Client),
		log:     log.Named("hub"),
	}
}

// Register binds c to its user, replacing any previous connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	metrics.ConnectedUsers.Set(float64(len(h.clients)))
	h.mu.Unlock()

	if old != nil && old != c {
		h.log.Info("connection replaced", zap.Int64("user_id", c.userID))
		old.closeWith(websocket.ClosePolicyViolation, "replaced by a newer connection")
	}
	h.log.Debug("user connected", zap.Int64("user_id", c.userID))
}

// Unregister removes the user's connection. Unknown users are a no-op.
func (h *Hub) Unregister(userID int64) {
	h.mu.Lock()
	delete(h.clients, userID)
	metrics.ConnectedUsers.Set(float64(len(h.clients)))
	h.mu.Unlock()
}

// unregisterClient removes c only if it is still the user's registered
// connection. It reports whether a removal happened.
func (h *Hub) unregisterClient(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.userID] != c {
		return false
	}
	delete(h.clients, c.userID)
	metrics.ConnectedUsers.Set(float64(len(h.clients)))
	return true
}

// Send delivers payload, JSON-encoded, to userID. It reports false when the
// user is offline or the write fails; a failed write unregisters the
// connection.
func (h *Hub) Send(userID int64, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal outbound payload", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}

	h.mu.RLock()
	c := h.clients[userID]
	h.mu.RUnlock()

	if c == nil {
		return false
	}
	return h.deliver(c, data)
}

// BroadcastExcept sends payload to every registered user except exceptID.
func (h *Hub) BroadcastExcept(exceptID int64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal broadcast payload", zap.Error(err))
		return
	}

	for _, c := range h.snapshot() {
		if c.userID == exceptID {
			continue
		}
		h.deliver(c, data)
	}
}

func (h *Hub) deliver(c *Client, data []byte) bool {
	if err := c.write(websocket.TextMessage, data); err != nil {
		metrics.SendFailures.Inc()
		h.log.Debug("send failed, dropping connection", zap.Int64("user_id", c.userID), zap.Error(err))
		h.unregisterClient(c)
		c.close()
		return false
	}
	return true
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	return list
}

// IsOnline reports whether userID has a registered connection.
func (h *Hub) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// OnlineUserIDs returns the registered users in ascending order.
func (h *Hub) OnlineUserIDs() []int64 {
	h.mu.RLock()
	ids := make([]int64, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered users.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// beginSession reserves a slot for a session loop. It reports false once
// the Hub is shut down. Every true result must be paired with endSession.
func (h *Hub) beginSession() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.sessions.Add(1)
	return true
}

func (h *Hub) endSession() {
	h.sessions.Done()
}

// Wait blocks until every session loop has finished or ctx is done. Call it
// after Shutdown.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new sessions and closes every connection with a
// going-away frame.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[int64]*Client)
	metrics.ConnectedUsers.Set(0)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	h.log.Info("all connections closed", zap.Int("count", len(clients)))
}
