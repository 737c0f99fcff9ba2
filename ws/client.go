package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single write; a peer that cannot accept a frame in
	// this time is treated as gone.
	writeWait = 10 * time.Second

	// pingPeriod is how often the server pings an idle peer.
	pingPeriod = 30 * time.Second

	// pongWait is the read deadline, refreshed by any frame or pong.
	pongWait = pingPeriod + 40*time.Second

	// maxMessageSize caps inbound frames. SDP offers fit comfortably.
	maxMessageSize = 64 * 1024
)

// Conn is the subset of *websocket.Conn used by the realtime layer.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one live WebSocket connection.
//
// Writes are serialised by mu because gorilla/websocket allows a single
// concurrent writer; reads happen only on the session goroutine.
type Client struct {
	userID int64
	conn   Conn
	log    *zap.Logger

	mu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(userID int64, conn Conn, log *zap.Logger) *Client {
	return &Client{
		userID: userID,
		conn:   conn,
		log:    log,
		done:   make(chan struct{}),
	}
}

// UserID returns the authenticated owner of the connection.
func (c *Client) UserID() int64 {
	return c.userID
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// closeWith sends a close frame with code and reason, then closes the
// transport. Safe to call more than once.
func (c *Client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			c.log.Debug("close frame not delivered", zap.Int64("user_id", c.userID), zap.Error(err))
		}
		close(c.done)
		_ = c.conn.Close()
	})
}

// close drops the transport without a close frame.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// keepalive pings the peer until the client is closed.
func (c *Client) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.log.Debug("ping failed", zap.Int64("user_id", c.userID), zap.Error(err))
				c.close()
				return
			}
		}
	}
}
