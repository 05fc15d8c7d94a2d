package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const messageColumns = `id, sender_id, recipient_id, content, message_type, created_at,
	is_delivered, delivered_at, is_read, read_at`

func (r *Repository) Persist(ctx context.Context, nm NewMessage) (*Message, error) {
	if err := nm.Validate(); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:          uuid.NewString(),
		SenderID:    nm.SenderID,
		RecipientID: nm.RecipientID,
		Content:     nm.Content,
		MessageType: nm.MessageType,
		CreatedAt:   Now(),
	}

	query := `INSERT INTO messages (id, sender_id, recipient_id, content, message_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.SenderID, msg.RecipientID, msg.Content, string(msg.MessageType), msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (r *Repository) GetConversation(ctx context.Context, userA, userB string, limit, offset int) ([]*Message, error) {
	limit, offset = ClampPage(limit, offset)
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query, userA, userB, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation: %w", err)
	}
	return messages, nil
}

func (r *Repository) MarkDelivered(ctx context.Context, messageID string) error {
	query := `UPDATE messages SET is_delivered = TRUE, delivered_at = $2
		WHERE id = $1 AND is_delivered = FALSE`
	if _, err := r.db.ExecContext(ctx, query, messageID, Now()); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkRead also completes the delivered pair so a read message is always a
// delivered one.
func (r *Repository) MarkRead(ctx context.Context, messageID string) error {
	query := `UPDATE messages SET
			is_read = TRUE, read_at = $2,
			is_delivered = TRUE, delivered_at = COALESCE(delivered_at, $2)
		WHERE id = $1 AND is_read = FALSE`
	if _, err := r.db.ExecContext(ctx, query, messageID, Now()); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (r *Repository) MarkAllRead(ctx context.Context, recipientID, senderID string, readAt time.Time) (int64, error) {
	query := `UPDATE messages SET
			is_read = TRUE, read_at = $3,
			is_delivered = TRUE, delivered_at = COALESCE(delivered_at, $3)
		WHERE recipient_id = $1 AND sender_id = $2 AND is_read = FALSE`
	res, err := r.db.ExecContext(ctx, query, recipientID, senderID, readAt)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return n, nil
}

func (r *Repository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM messages WHERE recipient_id = $1 AND is_read = FALSE`
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// RecentConversations picks the latest message per contact with DISTINCT ON
// and joins the unread count per sender. Both sides hit the
// (sender_id, recipient_id, created_at) and (recipient_id, is_read) indexes.
func (r *Repository) RecentConversations(ctx context.Context, userID string) ([]ConversationRow, error) {
	query := `
		WITH latest AS (
			SELECT DISTINCT ON (contact_id) contact_id, ` + messageColumns + `
			FROM (
				SELECT m.*, CASE WHEN m.sender_id = $1 THEN m.recipient_id ELSE m.sender_id END AS contact_id
				FROM messages m
				WHERE m.sender_id = $1 OR m.recipient_id = $1
			) mine
			ORDER BY contact_id, created_at DESC, id DESC
		), unread AS (
			SELECT sender_id AS contact_id, COUNT(*) AS unread_count
			FROM messages
			WHERE recipient_id = $1 AND is_read = FALSE
			GROUP BY sender_id
		)
		SELECT l.contact_id, ` + prefixed("l.") + `, COALESCE(u.unread_count, 0)
		FROM latest l
		LEFT JOIN unread u ON u.contact_id = l.contact_id
		ORDER BY l.created_at DESC, l.id DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query recent conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationRow
	for rows.Next() {
		var (
			row ConversationRow
			ms  messageScan
		)
		dest := append([]any{&row.ContactID}, ms.dest()...)
		if err := rows.Scan(append(dest, &row.UnreadCount)...); err != nil {
			return nil, fmt.Errorf("scan recent conversation: %w", err)
		}
		row.LastMessage = ms.message()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent conversations: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// messageScan holds the nullable and typed columns of one messages row.
type messageScan struct {
	msg Message
	typ string
	del sql.NullTime
	rd  sql.NullTime
}

func (ms *messageScan) dest() []any {
	return []any{&ms.msg.ID, &ms.msg.SenderID, &ms.msg.RecipientID, &ms.msg.Content, &ms.typ,
		&ms.msg.CreatedAt, &ms.msg.IsDelivered, &ms.del, &ms.msg.IsRead, &ms.rd}
}

func (ms *messageScan) message() *Message {
	msg := ms.msg
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.MessageType = MessageType(ms.typ)
	msg.DeliveredAt = nullTime(ms.del)
	msg.ReadAt = nullTime(ms.rd)
	return &msg
}

func scanMessage(s scanner) (*Message, error) {
	var ms messageScan
	if err := s.Scan(ms.dest()...); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return ms.message(), nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func prefixed(p string) string {
	return p + "id, " + p + "sender_id, " + p + "recipient_id, " + p + "content, " + p + "message_type, " +
		p + "created_at, " + p + "is_delivered, " + p + "delivered_at, " + p + "is_read, " + p + "read_at"
}
