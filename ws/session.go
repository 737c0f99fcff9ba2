package ws

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg/metrics"
)

// SessionState is the lifecycle position of one realtime connection.
//
//	Connecting -> Authenticating -> Registered -> Closing -> Closed
//	                    |
//	                    +-> Closed (handshake refused)
//
// Only Registered sessions are in the Hub and receive events.
type SessionState int32

const (
	// StateConnecting: the HTTP request arrived, nothing verified yet.
	StateConnecting SessionState = iota
	// StateAuthenticating: the token and path user are being checked.
	StateAuthenticating
	// StateRegistered: upgraded and bound in the Hub.
	StateRegistered
	// StateClosing: unregistering and announcing offline.
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateRegistered:
		return "registered"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

const endedByUser = "ended_by_user"

// CallGuard is the part of the call security manager the session needs.
// services.CallSecurityManager satisfies it. Every signaling frame goes
// through ValidateSignalingMessage before it is relayed; a refusal drops
// the frame silently, the guard keeps the audit trail.
type CallGuard interface {
	ValidateSignalingMessage(msg models.SignalingMessage, userID int64) (bool, string)
	EndCallSession(callID, reason string) bool
	UpdateCallHeartbeat(callID string) bool
}

// session drives one connection from the handshake to cleanup. It is
// created before authentication with no client; attach binds the upgraded
// connection. Only the session goroutine reads from the connection.
//
// state may be read from any goroutine.
type session struct {
	client *Client
	hub    *Hub
	calls  CallGuard
	log    *zap.Logger
	now    func() time.Time

	state atomic.Int32
}

func newSession(hub *Hub, calls CallGuard, log *zap.Logger) *session {
	s := &session{
		hub:   hub,
		calls: calls,
		log:   log,
		now:   time.Now,
	}
	s.setState(StateConnecting)
	return s
}

// attach binds the authenticated connection. It must run before run.
func (s *session) attach(client *Client) {
	s.client = client
	s.log = s.log.With(zap.Int64("user_id", client.userID))
}

func (s *session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *session) setState(st SessionState) {
	s.state.Store(int32(st))
	s.log.Debug("session state", zap.Stringer("state", st))
}

// run registers the connection, announces presence and serves frames until
// the peer goes away. Cleanup always runs, even after a panic.
//
// The read deadline is pushed forward by every frame and every pong; a
// peer silent for pongWait is considered gone and its ReadMessage fails.
func (s *session) run() {
	userID := s.client.userID
	conn := s.client.conn

	defer s.cleanup()

	s.setState(StateRegistered)
	s.hub.Register(s.client)
	s.hub.BroadcastExcept(userID, newStatusEvent(StatusOnline, userID))

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Warn("set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.client.keepalive()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Debug("connection lost", zap.Error(err))
			}
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			metrics.DroppedMessages.WithLabelValues("binary").Inc()
			continue
		}

		s.handleFrame(raw)
	}
}

// handleFrame isolates a single frame: a panic while dispatching is logged
// and the loop keeps serving.
func (s *session) handleFrame(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic while handling frame", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	s.dispatch(ParseInbound(raw))
}

// cleanup unregisters the client only if it is still the user's current
// connection, then announces offline unless a newer connection took over.
func (s *session) cleanup() {
	if r := recover(); r != nil {
		s.log.Error("session panicked", zap.Any("panic", r), zap.Stack("stack"))
	}

	s.setState(StateClosing)
	userID := s.client.userID

	s.hub.unregisterClient(s.client)
	s.client.close()

	// a newer connection for the same user keeps the user online
	if !s.hub.IsOnline(userID) {
		s.hub.BroadcastExcept(userID, newStatusEvent(StatusOffline, userID))
	}

	s.setState(StateClosed)
	s.log.Debug("session closed")
}

// dispatch routes one decoded frame. Chat and typing frames relay
// directly; signaling frames pass the call guard first. Every relayed event
// carries the authenticated sender id, never one taken from the frame.
func (s *session) dispatch(msg Inbound) {
	userID := s.client.userID

	switch m := msg.(type) {
	case TypingMessage:
		s.hub.Send(m.ReceiverID, Envelope{Type: m.Type, Data: TypingData{UserID: userID}})

	case ChatMessage:
		event := newChatEvent(userID, m, s.now())
		s.hub.Send(m.ReceiverID, event)
		s.hub.Send(userID, event)

	case OfferMessage:
		if !s.allowed(m.Signal, m.Offer) {
			return
		}
		s.hub.Send(m.ReceiverID, OfferEvent{
			Type:       TypeWebRTCOffer,
			Offer:      m.Offer,
			FromUserID: userID,
			CallerInfo: m.CallerInfo,
			CallID:     m.CallID,
		})

	case AnswerMessage:
		if !s.allowed(m.Signal, m.Answer) {
			return
		}
		s.hub.Send(m.ReceiverID, AnswerEvent{
			Type:       TypeWebRTCAnswer,
			Answer:     m.Answer,
			FromUserID: userID,
			CallID:     m.CallID,
		})

	case IceCandidateMessage:
		if !s.allowed(m.Signal, m.Candidate) {
			return
		}
		s.hub.Send(m.ReceiverID, IceCandidateEvent{
			Type:       TypeWebRTCIceCandidate,
			Candidate:  m.Candidate,
			FromUserID: userID,
			CallID:     m.CallID,
		})

	case CallEndedMessage:
		if !s.allowed(m.Signal, nil) {
			return
		}
		if m.CallID != "" {
			s.calls.EndCallSession(m.CallID, endedByUser)
		}
		s.hub.Send(m.ReceiverID, CallEndedEvent{
			Type:       TypeCallEnded,
			FromUserID: userID,
			CallID:     m.CallID,
		})

	case CallHeartbeatMessage:
		if !s.allowed(m.Signal, nil) {
			return
		}
		s.calls.UpdateCallHeartbeat(m.CallID)

	case UnknownMessage:
		metrics.DroppedMessages.WithLabelValues(m.Reason).Inc()
		s.log.Debug("frame ignored", zap.String("type", m.Type), zap.String("reason", m.Reason))
		return
	}

	metrics.InboundMessages.WithLabelValues(msg.inboundType()).Inc()
}

// allowed runs a signaling frame through the call guard. Rejected frames
// are dropped; the guard records the security event.
func (s *session) allowed(sig Signal, payload json.RawMessage) bool {
	ok, reason := s.calls.ValidateSignalingMessage(sig.Envelope(payload), s.client.userID)
	if !ok {
		metrics.DroppedMessages.WithLabelValues("rejected_" + sig.Type).Inc()
		s.log.Debug("signaling frame rejected", zap.String("type", sig.Type), zap.String("reason", reason))
	}
	return ok
}
