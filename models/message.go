package models

import "time"

// MessageType is the rendered kind of a direct message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// MessageStatus tracks attachment delivery. Text messages are created as
// "sent"; messages with an attachment start as "uploading" and end as
// "sent" or "failed" once the background upload finishes.
type MessageStatus string

const (
	MessageStatusUploading MessageStatus = "uploading"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is a persisted direct message.
//
// Content holds the stored (encrypted) blob. Events and API responses use
// MessageResponse, which carries the decrypted text instead.
type Message struct {
	ID          int64
	Content     string
	SenderID    int64
	ReceiverID  int64
	MessageType MessageType
	MediaURL    *string
	Status      MessageStatus
	IsRead      bool
	CreatedAt   time.Time
}

// MessageResponse is the client-facing shape of a message, used for the
// new_message and message_updated events as well as the HTTP response.
type MessageResponse struct {
	ID          int64         `json:"id"`
	Content     string        `json:"content"`
	SenderID    int64         `json:"sender_id"`
	ReceiverID  int64         `json:"receiver_id"`
	MessageType MessageType   `json:"message_type"`
	MediaURL    *string       `json:"media_url"`
	Status      MessageStatus `json:"status"`
	IsRead      bool          `json:"is_read"`
	CreatedAt   time.Time     `json:"created_at"`
	Sender      *UserSummary  `json:"sender,omitempty"`
	Receiver    *UserSummary  `json:"receiver,omitempty"`
}
