//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Store is the single source of truth for messages. Delivery and read
// transitions are compare-and-set updates evaluated inside the store, never
// read-modify-write in the caller.
type Store interface {
	Persist(ctx context.Context, nm NewMessage) (*Message, error)
	// GetConversation returns newest-first; callers reverse for display.
	GetConversation(ctx context.Context, userA, userB string, limit, offset int) ([]*Message, error)
	MarkDelivered(ctx context.Context, messageID string) error
	// MarkRead is the single-message transition. The relay itself reads whole
	// conversations through MarkAllRead.
	MarkRead(ctx context.Context, messageID string) error
	// MarkAllRead stamps readAt across every unread message from sender to
	// recipient and reports how many rows changed.
	MarkAllRead(ctx context.Context, recipientID, senderID string, readAt time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	RecentConversations(ctx context.Context, userID string) ([]ConversationRow, error)
}

// Validate normalizes m in place: content is trimmed and the type defaults
// to text.
func (m *NewMessage) Validate() error {
	m.SenderID = strings.TrimSpace(m.SenderID)
	m.RecipientID = strings.TrimSpace(m.RecipientID)
	m.Content = strings.TrimSpace(m.Content)

	if m.SenderID == "" {
		return invalid("sender", "Sender is required")
	}
	if m.RecipientID == "" {
		return invalid("recipient", "Recipient is required")
	}
	if m.SenderID == m.RecipientID {
		return invalid("recipient", "Cannot send a message to yourself")
	}
	if m.Content == "" {
		return invalid("content", "Message content is required")
	}
	if utf8.RuneCountInString(m.Content) > MaxContentLength {
		return invalid("content", "Message cannot exceed 1000 characters")
	}
	if m.MessageType == "" {
		m.MessageType = MessageTypeText
	}
	if !m.MessageType.Valid() {
		return invalid("messageType", "Message type must be one of text, image, file")
	}
	return nil
}

// ClampPage applies the default and maximum page size.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Now is the clock used for createdAt/deliveredAt/readAt. Postgres keeps
// microseconds, so every store truncates to match.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
