package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"whchat/internal/user"
)

// Service is the entry point for both the websocket and REST surfaces.
type Service struct {
	store      Store
	directory  Directory
	router     *Router
	aggregator *Aggregator
	metrics    Metrics
	log        *slog.Logger
}

func NewService(store Store, directory Directory, router *Router, aggregator *Aggregator, metrics Metrics, log *slog.Logger) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		store:      store,
		directory:  directory,
		router:     router,
		aggregator: aggregator,
		metrics:    metrics,
		log:        log,
	}
}

// SubmitMessage validates, persists and routes one message. It is the only
// send path: live sends pass their session as origin, REST sends pass nil.
// Validation and unknown recipients fail before anything is stored.
func (s *Service) SubmitMessage(ctx context.Context, senderID string, req SendRequest, origin Session) (*Message, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	nm := NewMessage{
		SenderID:    senderID,
		RecipientID: req.Recipient,
		Content:     req.Content,
		MessageType: req.MessageType,
	}
	if err := nm.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.directory.Exists(ctx, nm.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("lookup recipient: %w", err)
	}
	if !exists {
		return nil, &NotFoundError{Kind: "Recipient", ID: nm.RecipientID}
	}

	msg, err := s.store.Persist(ctx, nm)
	if err != nil {
		return nil, err
	}
	s.metrics.MessagePersisted(string(msg.MessageType))

	d := s.router.Route(ctx, msg, origin)
	s.log.Debug("message routed",
		slog.String("message_id", msg.ID),
		slog.Int("pushed", d.Pushed),
		slog.Int("failed", d.Failed),
	)
	return msg, nil
}

type ConversationPage struct {
	Messages  []*Message   `json:"messages"`
	OtherUser user.Profile `json:"otherUser"`
}

// OpenConversation returns one page of history oldest-first and marks what
// the other user sent as read. A failed read update is logged, not returned.
func (s *Service) OpenConversation(ctx context.Context, userID, otherID string, page, limit int) (*ConversationPage, error) {
	other, err := s.profile(ctx, otherID)
	if err != nil {
		return nil, err
	}

	limit, offset := pageOffset(page, limit)
	msgs, err := s.store.GetConversation(ctx, userID, otherID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	if _, err := s.markRead(ctx, userID, otherID); err != nil {
		s.log.Error("mark conversation read failed",
			slog.String("user_id", userID),
			slog.String("other_id", otherID),
			slog.Any("error", err),
		)
	}

	slices.Reverse(msgs)
	if msgs == nil {
		msgs = []*Message{}
	}
	// The registry is current even when the presence store lags or is down.
	other.IsOnline = s.router.Online(otherID)
	return &ConversationPage{Messages: msgs, OtherUser: *other}, nil
}

// maxOffset keeps (page-1)*limit from overflowing; any page past it is empty.
const maxOffset = math.MaxInt32

func pageOffset(page, limit int) (int, int) {
	limit, _ = ClampPage(limit, 0)
	if page < 1 {
		page = 1
	}
	if page-1 > maxOffset/limit {
		return limit, maxOffset
	}
	return limit, (page - 1) * limit
}

// MarkConversationRead is the explicit read acknowledgment. Here the update
// is the whole action, so its failure is returned.
func (s *Service) MarkConversationRead(ctx context.Context, userID, otherID string) (int64, error) {
	if err := checkRequest(MarkReadRequest{UserID: otherID}); err != nil {
		return 0, err
	}
	return s.markRead(ctx, userID, otherID)
}

func (s *Service) markRead(ctx context.Context, userID, otherID string) (int64, error) {
	readAt := Now()
	n, err := s.store.MarkAllRead(ctx, userID, otherID, readAt)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.router.Notify(ctx, otherID, Event{
			Name: EventMessagesRead,
			Data: ReadReceipt{ReaderID: userID, Count: n, ReadAt: readAt},
		})
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

func (s *Service) RecentConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	return s.aggregator.GetRecentConversations(ctx, userID)
}

func (s *Service) profile(ctx context.Context, userID string) (*user.Profile, error) {
	p, err := s.directory.GetProfile(ctx, userID)
	if errors.Is(err, user.ErrUserNotFound) {
		return nil, &NotFoundError{Kind: "User", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return p, nil
}
