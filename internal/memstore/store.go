// Package memstore is an in-process chat.Store. It backs local runs with
// STORE_DRIVER=memory and the service tests; it is not durable.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"whchat/internal/chat"
)

// Store keeps messages in memory, indexed by conversation pair and by id.
// Every method takes a copy on the way in and on the way out, so callers
// never share the stored rows.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*chat.Message
	pairs map[pairKey][]*chat.Message
	last  time.Time
}

type pairKey struct{ lo, hi string }

func keyFor(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

func New() *Store {
	return &Store{
		byID:  make(map[string]*chat.Message),
		pairs: make(map[pairKey][]*chat.Message),
	}
}

var _ chat.Store = (*Store)(nil)

func (s *Store) Persist(ctx context.Context, nm chat.NewMessage) (*chat.Message, error) {
	if err := nm.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg := &chat.Message{
		ID:          uuid.NewString(),
		SenderID:    nm.SenderID,
		RecipientID: nm.RecipientID,
		Content:     nm.Content,
		MessageType: nm.MessageType,
	}

	s.mu.Lock()
	// Creation times are strictly increasing so persist order is history
	// order even when two sends land in the same microsecond.
	msg.CreatedAt = chat.Now()
	if !msg.CreatedAt.After(s.last) {
		msg.CreatedAt = s.last.Add(time.Microsecond)
	}
	s.last = msg.CreatedAt
	s.byID[msg.ID] = msg
	k := keyFor(msg.SenderID, msg.RecipientID)
	s.pairs[k] = append(s.pairs[k], msg)
	s.mu.Unlock()

	return clone(msg), nil
}

func (s *Store) GetConversation(ctx context.Context, userA, userB string, limit, offset int) ([]*chat.Message, error) {
	limit, offset = chat.ClampPage(limit, offset)

	s.mu.RLock()
	all := lo.Map(s.pairs[keyFor(userA, userB)], func(m *chat.Message, _ int) *chat.Message { return clone(m) })
	s.mu.RUnlock()

	sortNewestFirst(all)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (s *Store) MarkDelivered(ctx context.Context, messageID string) error {
	now := chat.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[messageID]; ok && !m.IsDelivered {
		m.IsDelivered = true
		m.DeliveredAt = &now
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, messageID string) error {
	now := chat.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[messageID]; ok && !m.IsRead {
		markRead(m, now)
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, recipientID, senderID string, readAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.pairs[keyFor(recipientID, senderID)] {
		if m.RecipientID == recipientID && m.SenderID == senderID && !m.IsRead {
			markRead(m, readAt)
			n++
		}
	}
	return n, nil
}

func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.CountBy(lo.Values(s.byID), func(m *chat.Message) bool {
		return m.RecipientID == userID && !m.IsRead
	}), nil
}

func (s *Store) RecentConversations(ctx context.Context, userID string) ([]chat.ConversationRow, error) {
	s.mu.RLock()
	var rows []chat.ConversationRow
	for k, msgs := range s.pairs {
		if k.lo != userID && k.hi != userID {
			continue
		}
		var row chat.ConversationRow
		var latest *chat.Message
		for _, m := range msgs {
			if latest == nil || newer(m, latest) {
				latest = m
			}
			if m.RecipientID == userID && !m.IsRead {
				row.UnreadCount++
			}
		}
		if latest == nil {
			continue
		}
		row.ContactID = latest.Participant(userID)
		row.LastMessage = clone(latest)
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return newer(rows[i].LastMessage, rows[j].LastMessage) })
	return rows, nil
}

func markRead(m *chat.Message, now time.Time) {
	m.IsRead = true
	m.ReadAt = &now
	if !m.IsDelivered {
		m.IsDelivered = true
		m.DeliveredAt = &now
	}
}

func newer(a, b *chat.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func sortNewestFirst(msgs []*chat.Message) {
	sort.Slice(msgs, func(i, j int) bool { return newer(msgs[i], msgs[j]) })
}

func clone(m *chat.Message) *chat.Message {
	c := *m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		c.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}
