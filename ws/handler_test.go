package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
	"github.com/serofero/server/pkg/ratelimit"
)

type tokenAuth map[string]int64

func (a tokenAuth) ResolveUser(_ context.Context, token string) (*models.User, error) {
	id, ok := a[token]
	if !ok {
		return nil, pkg.ErrUnauthorized
	}
	return &models.User{ID: id, IsActive: true}, nil
}

type testServer struct {
	hub  *Hub
	anon *AnonHub
	url  string
}

func newTestServer(t *testing.T, failures *ratelimit.AuthFailureLimiter, origins ...string) *testServer {
	t.Helper()
	hub := NewHub(nil)
	anon := NewAnonHub(origins, nil)
	h := NewHandler(hub, tokenAuth{"tok-1": 1, "tok-2": 2}, newFakeGuard(), failures, origins, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{user_id}", h.HandleConnection)
	mux.HandleFunc("GET /ws", anon.HandleConnection)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Shutdown()
		anon.Shutdown()
		srv.Close()
	})

	return &testServer{hub: hub, anon: anon, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (s *testServer) dial(t *testing.T, path string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.url+path, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *testServer) connect(t *testing.T, userID int64, token string) *websocket.Conn {
	t.Helper()
	conn := s.dial(t, "/ws/"+strconv.FormatInt(userID, 10)+"?token="+token, nil)
	require.Eventually(t, func() bool { return s.hub.IsOnline(userID) }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func expectClose(t *testing.T, conn *websocket.Conn, code int, reason string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()

	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, code, ce.Code)
	assert.Equal(t, reason, ce.Text)
}

func TestHandler_RejectsBadHandshakes(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		path   string
		reason string
	}{
		{"missing token", "/ws/1", "missing token"},
		{"invalid token", "/ws/1?token=forged", "invalid token"},
		{"path mismatch", "/ws/2?token=tok-1", "user mismatch"},
		{"non-numeric path", "/ws/me?token=tok-1", "user mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := srv.dial(t, tt.path, nil)
			expectClose(t, conn, websocket.ClosePolicyViolation, tt.reason)
		})
	}
	assert.Zero(t, srv.hub.Len())
}

func TestHandler_BlocksRepeatedFailures(t *testing.T) {
	limiter := ratelimit.NewAuthFailureLimiter(2, time.Minute)
	defer limiter.Close()
	srv := newTestServer(t, limiter)

	for i := 0; i < 2; i++ {
		expectClose(t, srv.dial(t, "/ws/1?token=bad", nil), websocket.ClosePolicyViolation, "invalid token")
	}
	// even a valid token is refused while the address is blocked
	expectClose(t, srv.dial(t, "/ws/1?token=tok-1", nil), websocket.ClosePolicyViolation, "too many failed attempts")
}

func TestHandler_RealtimeFlow(t *testing.T) {
	srv := newTestServer(t, nil)

	alice := srv.connect(t, 1, "tok-1")
	bob := srv.connect(t, 2, "tok-2")

	assert.Equal(t, map[string]any{"type": "status", "status": "online", "user_id": float64(2)}, readEvent(t, alice))

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "typing_start", "receiver_id": 2}))
	ev := readEvent(t, bob)
	assert.Equal(t, "typing_start", ev["type"])
	assert.Equal(t, map[string]any{"user_id": float64(1)}, ev["data"])

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "message", "receiver_id": "2", "content": "hello"}))
	for _, conn := range []*websocket.Conn{bob, alice} {
		ev := readEvent(t, conn)
		assert.Equal(t, "new_message", ev["type"])
		assert.Equal(t, "hello", ev["data"].(map[string]any)["content"])
	}

	require.NoError(t, bob.WriteJSON(map[string]any{
		"type":       "webrtc-answer",
		"to_user_id": 1,
		"answer":     map[string]any{"sdp": "v=0"},
	}))
	ev = readEvent(t, alice)
	assert.Equal(t, "webrtc-answer", ev["type"])
	assert.Equal(t, float64(2), ev["from_user_id"])

	require.NoError(t, bob.Close())
	ev = readEvent(t, alice)
	assert.Equal(t, map[string]any{"type": "status", "status": "offline", "user_id": float64(2)}, ev)
	assert.False(t, srv.hub.IsOnline(2))
}

func TestHandler_NewerConnectionWins(t *testing.T) {
	srv := newTestServer(t, nil)

	bob := srv.connect(t, 2, "tok-2")
	first := srv.connect(t, 1, "tok-1")
	readEvent(t, bob) // alice online

	second := srv.dial(t, "/ws/1?token=tok-1", nil)
	expectClose(t, first, websocket.ClosePolicyViolation, "replaced by a newer connection")

	assert.Equal(t, "online", readEvent(t, bob)["status"])

	require.NoError(t, second.WriteJSON(map[string]any{"type": "typing_stop", "receiver_id": 2}))
	ev := readEvent(t, bob)
	assert.Equal(t, "typing_stop", ev["type"], "no offline event for the replaced socket")
	assert.True(t, srv.hub.IsOnline(1))
}

func TestHandler_OriginCheck(t *testing.T) {
	srv := newTestServer(t, nil, "https://app.serofero.example")

	_, resp, err := websocket.DefaultDialer.Dial(srv.url+"/ws/1?token=tok-1",
		http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	srv.dial(t, "/ws/1?token=tok-1", http.Header{"Origin": {"https://app.serofero.example"}})
	require.Eventually(t, func() bool { return srv.hub.IsOnline(1) }, 2*time.Second, 5*time.Millisecond)
}

func TestAnonHub_RelaysToOthers(t *testing.T) {
	srv := newTestServer(t, nil)

	a := srv.dial(t, "/ws", nil)
	b := srv.dial(t, "/ws", nil)
	c := srv.dial(t, "/ws", nil)
	require.Eventually(t, func() bool { return srv.anon.Len() == 3 }, 2*time.Second, 5*time.Millisecond)

	// authenticated users never see anonymous traffic
	user := srv.connect(t, 1, "tok-1")

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not even json")))
	for _, conn := range []*websocket.Conn{b, c} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "not even json", string(data))
	}

	require.NoError(t, a.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := a.ReadMessage()
	assert.Error(t, err, "sender does not receive its own frame")

	require.NoError(t, user.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = user.ReadMessage()
	assert.Error(t, err)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return srv.anon.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestNewUpgrader_Origins(t *testing.T) {
	check := func(origins []string, origin string) bool {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		up := newUpgrader(origins)
		return up.CheckOrigin(r)
	}

	assert.True(t, check(nil, "https://any.example"))
	assert.True(t, check([]string{"*"}, "https://any.example"))
	assert.True(t, check([]string{"https://a.example/"}, "https://a.example"))
	assert.False(t, check([]string{"https://a.example"}, "https://b.example"))
	assert.True(t, check([]string{"https://a.example"}, ""), "non-browser clients send no Origin")
}

// sessionStates returns the "session state" transitions logged so far.
func sessionStates(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.FilterMessage("session state").All() {
		out = append(out, e.ContextMap()["state"].(string))
	}
	return out
}

func TestHandler_SessionStates(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	hub := NewHub(nil)
	h := NewHandler(hub, tokenAuth{"tok-1": 1}, newFakeGuard(), nil, nil, zap.New(core))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{user_id}", h.HandleConnection)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("accepted", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(url+"/ws/1?token=tok-1", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Eventually(t, func() bool { return hub.IsOnline(1) }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"connecting", "authenticating", "registered"}, sessionStates(logs))

		require.NoError(t, conn.Close())
		require.Eventually(t, func() bool { return len(sessionStates(logs)) == 5 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"closing", "closed"}, sessionStates(logs)[3:])
	})

	t.Run("refused", func(t *testing.T) {
		before := len(sessionStates(logs))
		conn, resp, err := websocket.DefaultDialer.Dial(url+"/ws/1?token=forged", nil)
		require.NoError(t, err)
		resp.Body.Close()
		defer conn.Close()
		expectClose(t, conn, websocket.ClosePolicyViolation, "invalid token")

		require.Eventually(t, func() bool { return len(sessionStates(logs)) == before+3 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"connecting", "authenticating", "closed"}, sessionStates(logs)[before:])
	})
}

func TestHandler_RefusesAfterShutdown(t *testing.T) {
	srv := newTestServer(t, nil)
	alice := srv.connect(t, 1, "tok-1")

	srv.hub.Shutdown()
	expectClose(t, alice, websocket.CloseGoingAway, "server shutting down")

	late := srv.dial(t, "/ws/2?token=tok-2", nil)
	expectClose(t, late, websocket.CloseGoingAway, "server shutting down")
	assert.False(t, srv.hub.IsOnline(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, srv.hub.Wait(ctx), "the closed session loop has returned")
}
