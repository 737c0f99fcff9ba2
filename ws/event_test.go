package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serofero/server/models"
)

func TestParseInbound_Typing(t *testing.T) {
	got := ParseInbound([]byte(`{"type":"typing_start","receiver_id":2}`))
	assert.Equal(t, TypingMessage{Type: TypeTypingStart, ReceiverID: 2}, got)

	got = ParseInbound([]byte(`{"type":"typing_stop","to_user_id":"3"}`))
	assert.Equal(t, TypingMessage{Type: TypeTypingStop, ReceiverID: 3}, got)
}

func TestParseInbound_ReceiverPriority(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
	}{
		{"nested wins", `{"type":"typing_start","data":{"receiver_id":5},"receiver_id":6,"to_user_id":7}`, 5},
		{"top level before to_user_id", `{"type":"typing_start","receiver_id":6,"to_user_id":7}`, 6},
		{"to_user_id fallback", `{"type":"typing_start","to_user_id":7}`, 7},
		{"invalid nested falls through", `{"type":"typing_start","data":{"receiver_id":"x"},"receiver_id":6}`, 6},
		{"non-object data ignored", `{"type":"typing_start","data":"hi","to_user_id":7}`, 7},
		{"numeric string", `{"type":"typing_start","receiver_id":" 42 "}`, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseInbound([]byte(tt.raw)).(TypingMessage)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.ReceiverID)
		})
	}
}

func TestParseInbound_Chat(t *testing.T) {
	got, ok := ParseInbound([]byte(`{"type":"message","receiver_id":2,"content":{"text":"hi"}}`)).(ChatMessage)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.ReceiverID)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Content))
}

func TestParseInbound_Signaling(t *testing.T) {
	callID := "ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12"

	offer, ok := ParseInbound([]byte(`{
		"type":"webrtc-offer","receiver_id":2,"call_id":"` + callID + `",
		"timestamp":1700000000000.5,"offer":{"sdp":"v=0"},"caller_info":{"name":"a"}
	}`)).(OfferMessage)
	require.True(t, ok)
	assert.Equal(t, int64(2), offer.ReceiverID)
	assert.Equal(t, callID, offer.CallID)
	require.NotNil(t, offer.Timestamp)
	assert.Equal(t, 1700000000000.5, *offer.Timestamp)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(offer.Offer))
	assert.JSONEq(t, `{"name":"a"}`, string(offer.CallerInfo))

	env := offer.Envelope(offer.Offer)
	assert.Equal(t, models.SignalingMessage{
		Type:       TypeWebRTCOffer,
		CallID:     callID,
		Timestamp:  offer.Timestamp,
		ReceiverID: 2,
		Payload:    offer.Offer,
	}, env)

	answer, ok := ParseInbound([]byte(`{"type":"webrtc-answer","receiver_id":1,"answer":{"sdp":"x"}}`)).(AnswerMessage)
	require.True(t, ok)
	assert.Empty(t, answer.CallID)
	assert.Nil(t, answer.Timestamp)

	_, ok = ParseInbound([]byte(`{"type":"webrtc-ice-candidate","receiver_id":1,"candidate":{"c":1}}`)).(IceCandidateMessage)
	assert.True(t, ok)

	ended, ok := ParseInbound([]byte(`{"type":"call-ended","receiver_id":1,"call_id":"` + callID + `"}`)).(CallEndedMessage)
	require.True(t, ok)
	assert.Equal(t, callID, ended.CallID)

	hb, ok := ParseInbound([]byte(`{"type":"call-heartbeat","call_id":"` + callID + `"}`)).(CallHeartbeatMessage)
	require.True(t, ok)
	assert.Zero(t, hb.ReceiverID)
}

func TestParseInbound_Dropped(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantType   string
		wantReason string
	}{
		{"not json", `{{`, "", reasonMalformed},
		{"json array", `[1,2]`, "", reasonMalformed},
		{"json null", `null`, "", reasonMalformed},
		{"no type", `{"receiver_id":2}`, "", reasonUnknownType},
		{"non-string type", `{"type":5,"receiver_id":2}`, "", reasonUnknownType},
		{"unknown type", `{"type":"dance","receiver_id":2}`, "dance", reasonUnknownType},
		{"no receiver", `{"type":"typing_start"}`, TypeTypingStart, reasonMissingReceiver},
		{"zero receiver", `{"type":"typing_start","receiver_id":0}`, TypeTypingStart, reasonMissingReceiver},
		{"negative receiver", `{"type":"message","receiver_id":-4,"content":"x"}`, TypeMessage, reasonMissingReceiver},
		{"fractional receiver", `{"type":"typing_start","receiver_id":2.5}`, TypeTypingStart, reasonMissingReceiver},
		{"no content", `{"type":"message","receiver_id":2}`, TypeMessage, reasonMissingField},
		{"null offer", `{"type":"webrtc-offer","receiver_id":2,"offer":null}`, TypeWebRTCOffer, reasonMissingField},
		{"no answer", `{"type":"webrtc-answer","receiver_id":2}`, TypeWebRTCAnswer, reasonMissingField},
		{"no candidate", `{"type":"webrtc-ice-candidate","receiver_id":2}`, TypeWebRTCIceCandidate, reasonMissingField},
		{"string timestamp", `{"type":"webrtc-offer","receiver_id":2,"offer":{},"timestamp":"now"}`, TypeWebRTCOffer, reasonInvalidTimestamp},
		{"numeric call id", `{"type":"call-ended","receiver_id":2,"call_id":12}`, TypeCallEnded, reasonInvalidCallID},
		{"heartbeat without call", `{"type":"call-heartbeat"}`, TypeCallHeartbeat, reasonMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseInbound([]byte(tt.raw)).(UnknownMessage)
			require.True(t, ok, "got %#v", got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestParseInbound_NullOptionalFields(t *testing.T) {
	got, ok := ParseInbound([]byte(`{"type":"call-ended","receiver_id":2,"call_id":null,"timestamp":null}`)).(CallEndedMessage)
	require.True(t, ok)
	assert.Empty(t, got.CallID)
	assert.Nil(t, got.Timestamp)
}

func TestOutboundShapes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	chat := newChatEvent(1, ChatMessage{ReceiverID: 2, Content: json.RawMessage(`"hi"`)}, now)
	raw, err := json.Marshal(chat)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"new_message","data":{
		"sender_id":1,"receiver_id":2,"content":"hi",
		"message_type":"text","created_at":"2026-03-01T11:00:00Z"}}`, string(raw))

	raw, err = json.Marshal(OfferEvent{Type: TypeWebRTCOffer, Offer: json.RawMessage(`{}`), FromUserID: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"webrtc-offer","offer":{},"from_user_id":1,"caller_info":null}`, string(raw))

	raw, err = json.Marshal(newStatusEvent(StatusOffline, 4))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","status":"offline","user_id":4}`, string(raw))

	raw, err = json.Marshal(ConversationUpdateEvent())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"conversation_update"}`, string(raw))
}
