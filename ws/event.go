// Package ws implements the realtime layer: the connection registry (Hub),
// the per-connection session state machine and the wire format of
// inbound and outbound WebSocket messages.
//
// Every frame is a JSON object with a "type" field. Inbound frames are
// parsed into a closed set of message variants; anything unrecognised or
// missing a required field becomes UnknownMessage and is ignored.
package ws

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/serofero/server/models"
)

// Inbound message types.
const (
	TypeTypingStart        = "typing_start"
	TypeTypingStop         = "typing_stop"
	TypeMessage            = "message"
	TypeWebRTCOffer        = "webrtc-offer"
	TypeWebRTCAnswer       = "webrtc-answer"
	TypeWebRTCIceCandidate = "webrtc-ice-candidate"
	TypeCallEnded          = "call-ended"
	TypeCallHeartbeat      = "call-heartbeat"
)

// Outbound-only message types.
const (
	TypeStatus             = "status"
	TypeNewMessage         = "new_message"
	TypeConversationUpdate = "conversation_update"
	TypeMessageUpdated     = "message_updated"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ─── Inbound ───

// Inbound is one parsed client frame.
type Inbound interface {
	inboundType() string
}

// TypingMessage is typing_start or typing_stop.
type TypingMessage struct {
	Type       string
	ReceiverID int64
}

// ChatMessage is a realtime chat line. Content is relayed as sent.
type ChatMessage struct {
	ReceiverID int64
	Content    json.RawMessage
}

// Signal carries the fields shared by every call-signaling frame.
type Signal struct {
	Type       string
	ReceiverID int64
	CallID     string
	Timestamp  *float64 // client clock, Unix milliseconds
}

// Envelope returns the form checked by the call security manager.
func (s Signal) Envelope(payload json.RawMessage) models.SignalingMessage {
	return models.SignalingMessage{
		Type:       s.Type,
		CallID:     s.CallID,
		Timestamp:  s.Timestamp,
		ReceiverID: s.ReceiverID,
		Payload:    payload,
	}
}

type OfferMessage struct {
	Signal
	Offer      json.RawMessage
	CallerInfo json.RawMessage
}

type AnswerMessage struct {
	Signal
	Answer json.RawMessage
}

type IceCandidateMessage struct {
	Signal
	Candidate json.RawMessage
}

type CallEndedMessage struct {
	Signal
}

// CallHeartbeatMessage keeps a call session alive. It is not relayed.
type CallHeartbeatMessage struct {
	Signal
}

// UnknownMessage is any frame that cannot be dispatched.
type UnknownMessage struct {
	Type   string
	Reason string
}

func (m TypingMessage) inboundType() string        { return m.Type }
func (m ChatMessage) inboundType() string          { return TypeMessage }
func (m OfferMessage) inboundType() string         { return TypeWebRTCOffer }
func (m AnswerMessage) inboundType() string        { return TypeWebRTCAnswer }
func (m IceCandidateMessage) inboundType() string  { return TypeWebRTCIceCandidate }
func (m CallEndedMessage) inboundType() string     { return TypeCallEnded }
func (m CallHeartbeatMessage) inboundType() string { return TypeCallHeartbeat }
func (m UnknownMessage) inboundType() string       { return m.Type }

// Drop reasons reported by UnknownMessage.
const (
	reasonMalformed        = "malformed"
	reasonUnknownType      = "unknown_type"
	reasonMissingReceiver  = "missing_receiver"
	reasonMissingField     = "missing_field"
	reasonInvalidTimestamp = "invalid_timestamp"
	reasonInvalidCallID    = "invalid_call_id"
)

type fields map[string]json.RawMessage

// ParseInbound decodes a client frame. It never fails: malformed input
// yields UnknownMessage.
func ParseInbound(raw []byte) Inbound {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return UnknownMessage{Reason: reasonMalformed}
	}

	msgType, _ := f.str("type")

	switch msgType {
	case TypeTypingStart, TypeTypingStop, TypeMessage,
		TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCIceCandidate, TypeCallEnded:
	case TypeCallHeartbeat:
		return parseHeartbeat(f)
	default:
		return UnknownMessage{Type: msgType, Reason: reasonUnknownType}
	}

	receiverID, ok := f.receiverID()
	if !ok {
		return UnknownMessage{Type: msgType, Reason: reasonMissingReceiver}
	}

	switch msgType {
	case TypeTypingStart, TypeTypingStop:
		return TypingMessage{Type: msgType, ReceiverID: receiverID}

	case TypeMessage:
		content, ok := f["content"]
		if !ok {
			return UnknownMessage{Type: msgType, Reason: reasonMissingField}
		}
		return ChatMessage{ReceiverID: receiverID, Content: content}
	}

	sig, reason := f.signal(msgType, receiverID)
	if reason != "" {
		return UnknownMessage{Type: msgType, Reason: reason}
	}

	switch msgType {
	case TypeWebRTCOffer:
		offer, ok := f.present("offer")
		if !ok {
			return UnknownMessage{Type: msgType, Reason: reasonMissingField}
		}
		return OfferMessage{Signal: sig, Offer: offer, CallerInfo: f["caller_info"]}

	case TypeWebRTCAnswer:
		answer, ok := f.present("answer")
		if !ok {
			return UnknownMessage{Type: msgType, Reason: reasonMissingField}
		}
		return AnswerMessage{Signal: sig, Answer: answer}

	case TypeWebRTCIceCandidate:
		candidate, ok := f.present("candidate")
		if !ok {
			return UnknownMessage{Type: msgType, Reason: reasonMissingField}
		}
		return IceCandidateMessage{Signal: sig, Candidate: candidate}

	default:
		return CallEndedMessage{Signal: sig}
	}
}

func parseHeartbeat(f fields) Inbound {
	receiverID, _ := f.receiverID()
	sig, reason := f.signal(TypeCallHeartbeat, receiverID)
	if reason != "" {
		return UnknownMessage{Type: TypeCallHeartbeat, Reason: reason}
	}
	if sig.CallID == "" {
		return UnknownMessage{Type: TypeCallHeartbeat, Reason: reasonMissingField}
	}
	return CallHeartbeatMessage{Signal: sig}
}

// signal extracts call_id and timestamp. A call_id that is not a string,
// or a timestamp that is not a number, makes the frame undispatchable.
func (f fields) signal(msgType string, receiverID int64) (Signal, string) {
	sig := Signal{Type: msgType, ReceiverID: receiverID}

	if raw, ok := f.present("call_id"); ok {
		id, isStr := decodeString(raw)
		if !isStr {
			return sig, reasonInvalidCallID
		}
		sig.CallID = id
	}

	if raw, ok := f.present("timestamp"); ok {
		var ts float64
		if err := json.Unmarshal(raw, &ts); err != nil {
			return sig, reasonInvalidTimestamp
		}
		sig.Timestamp = &ts
	}

	return sig, ""
}

// receiverID resolves the target from data.receiver_id, then receiver_id,
// then to_user_id. The first candidate holding a positive id wins.
func (f fields) receiverID() (int64, bool) {
	if raw, ok := f.present("data"); ok {
		var nested fields
		if json.Unmarshal(raw, &nested) == nil {
			if id, ok := parseID(nested["receiver_id"]); ok {
				return id, true
			}
		}
	}
	if id, ok := parseID(f["receiver_id"]); ok {
		return id, true
	}
	return parseID(f["to_user_id"])
}

// present returns the raw value of key unless it is absent or null.
func (f fields) present(key string) (json.RawMessage, bool) {
	raw, ok := f[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

func (f fields) str(key string) (string, bool) {
	raw, ok := f[key]
	if !ok {
		return "", false
	}
	return decodeString(raw)
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// parseID accepts a positive integer as a JSON number or a numeric string.
func parseID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}

	switch t := v.(type) {
	case json.Number:
		n = t
	case string:
		n = json.Number(strings.TrimSpace(t))
	default:
		return 0, false
	}

	id, err := strconv.ParseInt(string(n), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ─── Outbound ───

// Envelope is the generic {type, data} event.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// StatusEvent announces presence changes.
type StatusEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	UserID int64  `json:"user_id"`
}

func newStatusEvent(status string, userID int64) StatusEvent {
	return StatusEvent{Type: TypeStatus, Status: status, UserID: userID}
}

type TypingData struct {
	UserID int64 `json:"user_id"`
}

// ChatData is the payload of a realtime new_message event.
type ChatData struct {
	SenderID    int64           `json:"sender_id"`
	ReceiverID  int64           `json:"receiver_id"`
	Content     json.RawMessage `json:"content"`
	MessageType string          `json:"message_type"`
	CreatedAt   string          `json:"created_at"`
}

func newChatEvent(senderID int64, msg ChatMessage, now time.Time) Envelope {
	return Envelope{
		Type: TypeNewMessage,
		Data: ChatData{
			SenderID:    senderID,
			ReceiverID:  msg.ReceiverID,
			Content:     msg.Content,
			MessageType: string(models.MessageTypeText),
			CreatedAt:   now.UTC().Format(time.RFC3339Nano),
		},
	}
}

// OfferEvent relays an SDP offer. CallerInfo is passed through untouched.
type OfferEvent struct {
	Type       string          `json:"type"`
	Offer      json.RawMessage `json:"offer"`
	FromUserID int64           `json:"from_user_id"`
	CallerInfo json.RawMessage `json:"caller_info"`
	CallID     string          `json:"call_id,omitempty"`
}

type AnswerEvent struct {
	Type       string          `json:"type"`
	Answer     json.RawMessage `json:"answer"`
	FromUserID int64           `json:"from_user_id"`
	CallID     string          `json:"call_id,omitempty"`
}

type IceCandidateEvent struct {
	Type       string          `json:"type"`
	Candidate  json.RawMessage `json:"candidate"`
	FromUserID int64           `json:"from_user_id"`
	CallID     string          `json:"call_id,omitempty"`
}

type CallEndedEvent struct {
	Type       string `json:"type"`
	FromUserID int64  `json:"from_user_id"`
	CallID     string `json:"call_id,omitempty"`
}

// MessageEvent wraps a persisted message for new_message and message_updated.
func MessageEvent(eventType string, msg *models.MessageResponse) Envelope {
	return Envelope{Type: eventType, Data: msg}
}

// ConversationUpdateEvent tells a client to refresh its conversation list.
func ConversationUpdateEvent() Envelope {
	return Envelope{Type: TypeConversationUpdate}
}
