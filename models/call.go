// Call session domain model.
//
// Call sessions are ephemeral and live only in the call security manager's
// memory. A restart drops every session; clients re-negotiate.
package models

import (
	"encoding/json"
	"time"
)

// CallType is the media kind requested by the caller.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a supported call type.
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the lifecycle state of a call session.
type CallStatus string

const (
	CallStatusInitiating CallStatus = "initiating"
	CallStatusActive     CallStatus = "active"
	CallStatusEnded      CallStatus = "ended"
)

// CallSession is the public view of a call session. The per-call session
// key is deliberately absent: it never leaves the call security manager.
type CallSession struct {
	CallID         string     `json:"call_id"`
	CallerID       int64      `json:"caller_id"`
	ReceiverID     int64      `json:"receiver_id"`
	CallType       CallType   `json:"call_type"`
	Status         CallStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	LastHeartbeat  time.Time  `json:"last_heartbeat"`
	HeartbeatCount int        `json:"heartbeat_count"`
}

// HasParticipant reports whether userID is the caller or the receiver.
func (c *CallSession) HasParticipant(userID int64) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

// ActiveCall is a participant's listing entry for a live call.
type ActiveCall struct {
	CallID     string     `json:"call_id"`
	CallerID   int64      `json:"caller_id"`
	ReceiverID int64      `json:"receiver_id"`
	CallType   CallType   `json:"call_type"`
	Status     CallStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	Duration   float64    `json:"duration"`
}

// Call health states reported by CheckCallHealth.
const (
	CallHealthNotFound = "not_found"
	CallHealthStale    = "stale"
	CallHealthHealthy  = "healthy"
)

// CallHealth is the result of a health check. Duration and HeartbeatCount
// are always encoded, zero for stale and unknown calls; TimeSinceHeartbeat
// is dropped when the call is unknown.
type CallHealth struct {
	Status             string  `json:"status"`
	Duration           float64 `json:"duration"`
	HeartbeatCount     int     `json:"heartbeat_count"`
	TimeSinceHeartbeat float64 `json:"time_since_heartbeat,omitempty"`
}

// SealedPayload is signaling data sealed under a call's session key.
// Both fields are standard base64.
type SealedPayload struct {
	EncryptedData string `json:"encrypted_data"`
	Nonce         string `json:"nonce"`
	IsEncrypted   bool   `json:"is_encrypted"`
}

// SignalingMessage is the transient envelope checked before a signaling
// frame is relayed. Timestamp is client time in Unix milliseconds; nil
// means the client did not send one.
type SignalingMessage struct {
	Type       string          `json:"type"`
	CallID     string          `json:"call_id,omitempty"`
	Timestamp  *float64        `json:"timestamp,omitempty"`
	ReceiverID int64           `json:"receiver_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// SecurityEvent is one entry of the diagnostic security log.
type SecurityEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details"`
}

// Security event types.
const (
	EventCallSessionCreated   = "call_session_created"
	EventCallSessionEnded     = "call_session_ended"
	EventCallBlocked          = "call_blocked"
	EventCallNonFriend        = "call_non_friend"
	EventCallRateLimited      = "call_rate_limited"
	EventReplayAttackDetected = "replay_attack_detected"
	EventInvalidCallID        = "invalid_call_id"
	EventUnauthorizedAccess   = "unauthorized_call_access"
	EventEncryptionFailed     = "encryption_failed"
	EventDecryptionFailed     = "decryption_failed"
	EventCallStaleDetected    = "call_stale_detected"
)

// criticalEvents are additionally forwarded to the operational alert channel.
var criticalEvents = map[string]bool{
	EventCallBlocked:          true,
	EventCallRateLimited:      true,
	EventReplayAttackDetected: true,
	EventUnauthorizedAccess:   true,
	EventEncryptionFailed:     true,
	EventDecryptionFailed:     true,
}

// IsCritical reports whether events of this type must reach the alert channel.
func (e SecurityEvent) IsCritical() bool {
	return criticalEvents[e.Type]
}
