package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
	"github.com/serofero/server/pkg/alert"
	"github.com/serofero/server/pkg/crypto"
	"github.com/serofero/server/pkg/metrics"
)

// Reasons returned by ValidateCallPermissions and ValidateSignalingMessage.
// Clients see them verbatim in error bodies, so the wording is part of the
// API.
const (
	ReasonCallAllowed   = "Call allowed"
	ReasonUserBlocked   = "Call not allowed - user blocked"
	ReasonRateLimited   = "Too many call attempts - please wait"
	ReasonLookupFailed  = "Call not allowed - permission check failed"
	ReasonMessageValid  = "Message valid"
	ReasonReplay        = "Message too old - possible replay attack"
	ReasonInvalidCallID = "Invalid call ID format"
	ReasonUnauthorized  = "Unauthorized access to call"
)

// Reasons attached to call_session_ended events.
const (
	ReasonEndedByUser  = "ended_by_user"
	ReasonStaleCleanup = "stale_cleanup"
)

const (
	defaultEventsLimit = 100
	// 32 random bytes, hex encoded: 64 characters.
	callIDBytes        = 32
	callIDLength       = callIDBytes * 2
)

// BlockChecker reports whether either user blocked the other.
// repository.BlockRepository satisfies it.
type BlockChecker interface {
	IsBlocked(ctx context.Context, a, b int64) (bool, error)
}

// FriendChecker reports an accepted friendship in either direction.
// repository.FriendshipRepository satisfies it.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b int64) (bool, error)
}

// CallSecurityConfig holds the limits of the call security manager.
type CallSecurityConfig struct {
	// MaxCallsPerWindow caps the live sessions one caller may have created
	// inside RateWindow.
	MaxCallsPerWindow int
	RateWindow        time.Duration

	// ReplayWindow is how old a signaling timestamp may be. Future
	// timestamps are accepted.
	ReplayWindow time.Duration

	// StaleAfter marks a call unhealthy in CheckCallHealth; CleanupAfter
	// removes it in CleanupStaleCalls.
	StaleAfter   time.Duration
	CleanupAfter time.Duration

	// EventLogSize bounds the in-memory security event ring.
	EventLogSize int
}

// DefaultCallSecurityConfig returns the production limits.
func DefaultCallSecurityConfig() CallSecurityConfig {
	return CallSecurityConfig{
		MaxCallsPerWindow: 10,
		RateWindow:        5 * time.Minute,
		ReplayWindow:      30 * time.Second,
		StaleAfter:        30 * time.Second,
		CleanupAfter:      60 * time.Second,
		EventLogSize:      1000,
	}
}

// CallSecurityManager owns every in-memory call session.
//
// Sessions hold a per-call AES-256 key that never leaves the manager;
// callers only ever see models.CallSession and sealed payloads. Handlers and
// the WebSocket layer ask the manager to seal or open a payload and to vet a
// signaling frame. All methods are safe for concurrent use. Stale sessions
// are removed only when CleanupStaleCalls is invoked (see CallJanitor).
//
// Life of a call:
//
//	POST /api/calls          -> ValidateCallPermissions + CreateCallSession
//	ws webrtc-offer/answer   -> ValidateSignalingMessage, then relay
//	ws/HTTP heartbeat        -> UpdateCallHeartbeat (initiating -> active)
//	ws call-ended / DELETE   -> EndCallSession
//	cron                     -> CleanupStaleCalls
type CallSecurityManager interface {
	CreateCallSession(callerID, receiverID int64, callType models.CallType) (*models.CallSession, error)
	ValidateCallPermissions(ctx context.Context, callerID, receiverID int64) (bool, string)

	// EncryptSignalingData seals the JSON encoding of data under the call's
	// key. It returns nil for an unknown call or on failure.
	EncryptSignalingData(callID string, data any) *models.SealedPayload
	// DecryptSignalingData is the inverse of EncryptSignalingData.
	DecryptSignalingData(callID, ciphertextB64, nonceB64 string) (json.RawMessage, bool)

	// ValidateSignalingMessage rejects replays, malformed call ids and users
	// that are not party to a known call. An unknown well-formed call id is
	// accepted: the offer may arrive before the session is created.
	ValidateSignalingMessage(msg models.SignalingMessage, userID int64) (bool, string)

	UpdateCallHeartbeat(callID string) bool
	CheckCallHealth(callID string) models.CallHealth
	EndCallSession(callID, reason string) bool
	CleanupStaleCalls() int

	GetCall(callID string) (*models.CallSession, bool)
	ActiveCallsForUser(userID int64) []models.ActiveCall
	SecurityEvents(limit int) []models.SecurityEvent
}

// callState pairs the public session record with its key. The key is never
// copied out of the manager.
type callState struct {
	session models.CallSession
	key     []byte
}

// callSecurityManager is the CallSecurityManager implementation.
//
// mu guards calls and every field of the callStates inside it. The event
// ring has its own lock so recordEvent can run while mu is held. now and
// rand are injectable so tests can drive time and randomness.
type callSecurityManager struct {
	cfg     CallSecurityConfig
	blocks  BlockChecker
	friends FriendChecker
	alerts  alert.Notifier
	log     *zap.Logger

	now  func() time.Time
	rand io.Reader

	mu    sync.Mutex
	calls map[string]*callState

	events *eventRing
}

// NewCallSecurityManager builds a manager. alerts may be nil, in which case
// critical events are only logged.
func NewCallSecurityManager(
	cfg CallSecurityConfig,
	blocks BlockChecker,
	friends FriendChecker,
	alerts alert.Notifier,
	log *zap.Logger,
) CallSecurityManager {
	return newCallSecurityManager(cfg, blocks, friends, alerts, log, time.Now, rand.Reader)
}

func newCallSecurityManager(
	cfg CallSecurityConfig,
	blocks BlockChecker,
	friends FriendChecker,
	alerts alert.Notifier,
	log *zap.Logger,
	now func() time.Time,
	random io.Reader,
) *callSecurityManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &callSecurityManager{
		cfg:     cfg,
		blocks:  blocks,
		friends: friends,
		alerts:  alerts,
		log:     log,
		now:     now,
		rand:    random,
		calls:   make(map[string]*callState),
		events:  newEventRing(cfg.EventLogSize),
	}
}

// IsValidCallID reports whether s is exactly 64 hexadecimal characters,
// in either case.
func IsValidCallID(s string) bool {
	if len(s) != callIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// CreateCallSession mints a call id and key and stores the session as
// initiating. It fails with pkg.ErrTooManyRequests when the caller already
// has MaxCallsPerWindow live sessions inside the rate window.
func (m *callSecurityManager) CreateCallSession(callerID, receiverID int64, callType models.CallType) (*models.CallSession, error) {
	if !callType.Valid() {
		return nil, fmt.Errorf("%w: unsupported call type %q", pkg.ErrBadRequest, callType)
	}

	idBytes := make([]byte, callIDBytes)
	if _, err := io.ReadFull(m.rand, idBytes); err != nil {
		return nil, fmt.Errorf("generate call id: %w", err)
	}
	key, err := crypto.NewKey(m.rand)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	now := m.now()
	st := &callState{
		session: models.CallSession{
			CallID:        hex.EncodeToString(idBytes),
			CallerID:      callerID,
			ReceiverID:    receiverID,
			CallType:      callType,
			Status:        models.CallStatusInitiating,
			CreatedAt:     now,
			LastHeartbeat: now,
		},
		key: key,
	}

	// The limit is counted again under the lock that inserts, so
	// concurrent initiations by one caller cannot all pass the earlier
	// ValidateCallPermissions check and overshoot it.
	m.mu.Lock()
	if m.countRecentLocked(callerID, now) >= m.cfg.MaxCallsPerWindow {
		m.recordEvent(models.EventCallRateLimited, map[string]any{
			"caller_id":   callerID,
			"receiver_id": receiverID,
			"reason":      "rate_limit_exceeded",
		})
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", pkg.ErrTooManyRequests, ReasonRateLimited)
	}
	m.calls[st.session.CallID] = st
	metrics.ActiveCalls.Set(float64(len(m.calls)))
	m.mu.Unlock()

	m.recordEvent(models.EventCallSessionCreated, map[string]any{
		"call_id":     st.session.CallID,
		"caller_id":   callerID,
		"receiver_id": receiverID,
		"call_type":   callType,
	})

	session := st.session
	return &session, nil
}

// ValidateCallPermissions runs the pre-flight checks of a new call: blocks
// in either direction, the friendship audit and the rate limit. A failed
// block lookup refuses the call; a failed friendship lookup does not.
func (m *callSecurityManager) ValidateCallPermissions(ctx context.Context, callerID, receiverID int64) (bool, string) {
	blocked, err := m.blocks.IsBlocked(ctx, callerID, receiverID)
	if err != nil {
		m.log.Error("block lookup failed", zap.Int64("caller_id", callerID), zap.Int64("receiver_id", receiverID), zap.Error(err))
		return false, ReasonLookupFailed
	}
	if blocked {
		m.recordEvent(models.EventCallBlocked, map[string]any{
			"caller_id":   callerID,
			"receiver_id": receiverID,
			"reason":      "user_blocked",
		})
		return false, ReasonUserBlocked
	}

	// calls between non-friends are allowed but recorded for monitoring
	friends, err := m.friends.AreFriends(ctx, callerID, receiverID)
	if err != nil {
		m.log.Warn("friendship lookup failed", zap.Int64("caller_id", callerID), zap.Int64("receiver_id", receiverID), zap.Error(err))
	} else if !friends {
		m.recordEvent(models.EventCallNonFriend, map[string]any{
			"caller_id":   callerID,
			"receiver_id": receiverID,
			"reason":      "not_friends",
		})
	}

	if !m.withinRateLimit(callerID) {
		m.recordEvent(models.EventCallRateLimited, map[string]any{
			"caller_id":   callerID,
			"receiver_id": receiverID,
			"reason":      "rate_limit_exceeded",
		})
		return false, ReasonRateLimited
	}

	return true, ReasonCallAllowed
}

func (m *callSecurityManager) withinRateLimit(callerID int64) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.countRecentLocked(callerID, now) < m.cfg.MaxCallsPerWindow
}

// countRecentLocked counts the caller's sessions created inside the rolling
// window. Ended sessions are gone from the map and no longer count. m.mu
// must be held.
func (m *callSecurityManager) countRecentLocked(callerID int64, now time.Time) int {
	windowStart := now.Add(-m.cfg.RateWindow)

	recent := 0
	for _, st := range m.calls {
		if st.session.CallerID == callerID && st.session.CreatedAt.After(windowStart) {
			recent++
		}
	}
	return recent
}

func (m *callSecurityManager) sessionKey(callID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.calls[callID]
	if !ok {
		return nil, false
	}
	return st.key, true
}

// EncryptSignalingData marshals data to JSON and seals it with AES-GCM
// under the call key. Every call draws a fresh 12-byte nonce.
func (m *callSecurityManager) EncryptSignalingData(callID string, data any) *models.SealedPayload {
	key, ok := m.sessionKey(callID)
	if !ok {
		return nil
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		m.recordEvent(models.EventEncryptionFailed, map[string]any{"call_id": callID, "error": err.Error()})
		return nil
	}

	ciphertext, nonce, err := crypto.Seal(plaintext, key)
	if err != nil {
		m.recordEvent(models.EventEncryptionFailed, map[string]any{"call_id": callID, "error": err.Error()})
		return nil
	}

	return &models.SealedPayload{
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:         base64.StdEncoding.EncodeToString(nonce),
		IsEncrypted:   true,
	}
}

func (m *callSecurityManager) DecryptSignalingData(callID, ciphertextB64, nonceB64 string) (json.RawMessage, bool) {
	key, ok := m.sessionKey(callID)
	if !ok {
		return nil, false
	}

	fail := func(err error) (json.RawMessage, bool) {
		m.recordEvent(models.EventDecryptionFailed, map[string]any{"call_id": callID, "error": err.Error()})
		return nil, false
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return fail(fmt.Errorf("decode ciphertext: %w", err))
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return fail(fmt.Errorf("decode nonce: %w", err))
	}

	plaintext, err := crypto.Open(ciphertext, nonce, key)
	if err != nil {
		return fail(err)
	}
	if !json.Valid(plaintext) {
		return fail(fmt.Errorf("plaintext is not valid JSON"))
	}

	return json.RawMessage(plaintext), true
}

// ValidateSignalingMessage vets one signaling frame sent by userID. Checks
// run in order and the first failure wins:
//
//  1. replay: a timestamp older than ReplayWindow
//  2. format: a non-empty call id that is not 64 hex characters
//  3. membership: for a known call the sender must be a participant, and a
//     non-zero ReceiverID must be the other participant
//
// A frame without a call id, or naming a call the manager does not hold,
// passes the membership check.
func (m *callSecurityManager) ValidateSignalingMessage(msg models.SignalingMessage, userID int64) (bool, string) {
	if msg.Timestamp != nil {
		nowMs := float64(m.now().UnixNano()) / float64(time.Millisecond)
		age := nowMs - *msg.Timestamp
		if age > float64(m.cfg.ReplayWindow.Milliseconds()) {
			m.recordEvent(models.EventReplayAttackDetected, map[string]any{
				"user_id":      userID,
				"message_age":  math.Round(age),
				"message_type": msg.Type,
			})
			return false, ReasonReplay
		}
	}

	if msg.CallID == "" {
		return true, ReasonMessageValid
	}

	if !IsValidCallID(msg.CallID) {
		m.recordEvent(models.EventInvalidCallID, map[string]any{
			"user_id":      userID,
			"call_id":      msg.CallID,
			"message_type": msg.Type,
		})
		return false, ReasonInvalidCallID
	}

	m.mu.Lock()
	st, known := m.calls[msg.CallID]
	authorized := true
	if known {
		authorized = st.session.HasParticipant(userID)
		// the relay target must be the peer, not a third user
		if authorized && msg.ReceiverID != 0 {
			authorized = msg.ReceiverID != userID && st.session.HasParticipant(msg.ReceiverID)
		}
	}
	m.mu.Unlock()

	if !authorized {
		m.recordEvent(models.EventUnauthorizedAccess, map[string]any{
			"user_id":      userID,
			"receiver_id":  msg.ReceiverID,
			"call_id":      msg.CallID,
			"message_type": msg.Type,
		})
		return false, ReasonUnauthorized
	}

	return true, ReasonMessageValid
}

// UpdateCallHeartbeat refreshes the liveness clock. The first heartbeat
// promotes an initiating call to active.
func (m *callSecurityManager) UpdateCallHeartbeat(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.calls[callID]
	if !ok {
		return false
	}

	st.session.LastHeartbeat = m.now()
	st.session.HeartbeatCount++
	if st.session.Status == models.CallStatusInitiating {
		st.session.Status = models.CallStatusActive
	}
	return true
}

func (m *callSecurityManager) CheckCallHealth(callID string) models.CallHealth {
	now := m.now()

	m.mu.Lock()
	st, ok := m.calls[callID]
	var session models.CallSession
	if ok {
		session = st.session
	}
	m.mu.Unlock()

	if !ok {
		return models.CallHealth{Status: models.CallHealthNotFound}
	}

	sinceHeartbeat := now.Sub(session.LastHeartbeat)
	if sinceHeartbeat > m.cfg.StaleAfter {
		m.recordEvent(models.EventCallStaleDetected, map[string]any{
			"call_id":              callID,
			"time_since_heartbeat": sinceHeartbeat.Seconds(),
		})
		return models.CallHealth{
			Status:             models.CallHealthStale,
			TimeSinceHeartbeat: sinceHeartbeat.Seconds(),
		}
	}

	return models.CallHealth{
		Status:             models.CallHealthHealthy,
		Duration:           now.Sub(session.CreatedAt).Seconds(),
		HeartbeatCount:     session.HeartbeatCount,
		TimeSinceHeartbeat: sinceHeartbeat.Seconds(),
	}
}

func (m *callSecurityManager) EndCallSession(callID, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.endLocked(callID, reason)
}

// endLocked marks a session ended and removes it together with its key;
// m.mu must be held. The ended event carries the final status.
func (m *callSecurityManager) endLocked(callID, reason string) bool {
	st, ok := m.calls[callID]
	if !ok {
		return false
	}

	st.session.Status = models.CallStatusEnded
	delete(m.calls, callID)
	metrics.ActiveCalls.Set(float64(len(m.calls)))

	m.recordEvent(models.EventCallSessionEnded, map[string]any{
		"call_id":         callID,
		"caller_id":       st.session.CallerID,
		"receiver_id":     st.session.ReceiverID,
		"status":          st.session.Status,
		"duration":        m.now().Sub(st.session.CreatedAt).Seconds(),
		"reason":          reason,
		"heartbeat_count": st.session.HeartbeatCount,
	})
	return true
}

// CleanupStaleCalls ends every session whose last heartbeat is older than
// CleanupAfter and returns how many were removed.
func (m *callSecurityManager) CleanupStaleCalls() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for callID, st := range m.calls {
		if now.Sub(st.session.LastHeartbeat) > m.cfg.CleanupAfter {
			if m.endLocked(callID, ReasonStaleCleanup) {
				removed++
			}
		}
	}
	return removed
}

func (m *callSecurityManager) GetCall(callID string) (*models.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.calls[callID]
	if !ok {
		return nil, false
	}
	session := st.session
	return &session, true
}

func (m *callSecurityManager) ActiveCallsForUser(userID int64) []models.ActiveCall {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	calls := []models.ActiveCall{}
	for _, st := range m.calls {
		s := st.session
		if !s.HasParticipant(userID) {
			continue
		}
		calls = append(calls, models.ActiveCall{
			CallID:     s.CallID,
			CallerID:   s.CallerID,
			ReceiverID: s.ReceiverID,
			CallType:   s.CallType,
			Status:     s.Status,
			CreatedAt:  s.CreatedAt,
			Duration:   now.Sub(s.CreatedAt).Seconds(),
		})
	}
	return calls
}

func (m *callSecurityManager) SecurityEvents(limit int) []models.SecurityEvent {
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	return m.events.Last(limit)
}

// recordEvent appends to the ring buffer and forwards critical events to
// the alert channel. It may be called with m.mu held.
func (m *callSecurityManager) recordEvent(eventType string, details map[string]any) {
	ev := models.SecurityEvent{
		Type:      eventType,
		Timestamp: m.now().UTC(),
		Details:   details,
	}
	m.events.Append(ev)
	metrics.SecurityEvents.WithLabelValues(eventType).Inc()

	if !ev.IsCritical() {
		m.log.Debug("security event", zap.String("type", eventType), zap.Any("details", details))
		return
	}

	m.log.Warn("critical security event", zap.String("type", eventType), zap.Any("details", details))
	if m.alerts != nil {
		m.alerts.Notify(ev)
	}
}

// eventRing keeps the most recent events in a fixed-size circular buffer.
type eventRing struct {
	mu    sync.Mutex
	buf   []models.SecurityEvent
	start int
	size  int
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &eventRing{buf: make([]models.SecurityEvent, capacity)}
}

func (r *eventRing) Append(ev models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

// Last returns up to n of the newest events, oldest first.
func (r *eventRing) Last(n int) []models.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.size {
		n = r.size
	}
	out := make([]models.SecurityEvent, n)
	first := r.start + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(first+i)%len(r.buf)]
	}
	return out
}

func (r *eventRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
