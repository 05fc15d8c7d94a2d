package chat

import (
	"time"

	"whchat/internal/user"
)

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// MaxContentLength is counted in characters (runes) after trimming.
const MaxContentLength = 1000

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// Message is immutable once persisted except for the delivered/read pairs,
// which only ever move from false to true.
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender"`
	RecipientID string      `json:"recipient"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	CreatedAt   time.Time   `json:"createdAt"`
	IsDelivered bool        `json:"isDelivered"`
	DeliveredAt *time.Time  `json:"deliveredAt,omitempty"`
	IsRead      bool        `json:"isRead"`
	ReadAt      *time.Time  `json:"readAt,omitempty"`
}

// Participant reports the id of the other side of the conversation.
func (m *Message) Participant(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// NewMessage is what callers hand to Store.Persist. Everything else on a
// Message is assigned by the store.
type NewMessage struct {
	SenderID    string
	RecipientID string
	Content     string
	MessageType MessageType
}

// ConversationRow is the per-contact projection the store computes for the
// aggregator, before profiles are joined in.
type ConversationRow struct {
	ContactID   string
	LastMessage *Message
	UnreadCount int
}

// ConversationSummary is derived on every query and never stored.
type ConversationSummary struct {
	Contact     user.Profile `json:"contact"`
	LastMessage *Message     `json:"lastMessage"`
	UnreadCount int          `json:"unreadCount"`
}

// ---------------------------------------------
// ⚡ Live Transport Models
// ---------------------------------------------

const (
	EventSendMessage    = "send_message"
	EventMarkRead       = "mark_read"
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventMessageError   = "message_error"
	EventMessagesRead   = "messages_read"
)

// Event is the envelope written to and read from a live connection.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// SendRequest is the body of both the websocket send_message event and the
// REST send endpoint.
type SendRequest struct {
	Recipient   string      `json:"recipient" validate:"required"`
	Content     string      `json:"content" validate:"required"`
	MessageType MessageType `json:"messageType,omitempty" validate:"omitempty,oneof=text image file"`
}

type MarkReadRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// ReadReceipt tells a sender that the reader opened their messages.
type ReadReceipt struct {
	ReaderID string    `json:"readerId"`
	Count    int64     `json:"count"`
	ReadAt   time.Time `json:"readAt"`
}
