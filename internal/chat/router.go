package chat

import (
	"context"
	"log/slog"
)

// Tasks runs side effects off the push path. worker.Queue implements it.
type Tasks interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// Router pushes a freshly persisted message to whoever is live.
//
// Delivery is push-if-present, pull-otherwise: a recipient with no live
// session gets nothing now and no retry later. The message stays
// undelivered in the store until the recipient pulls the conversation.
// This is not an at-least-once guarantee; a crash between Persist and Route
// leaves a stored but unrouted message that only a pull will surface.
type Router struct {
	hub     *Hub
	store   Store
	tasks   Tasks
	metrics Metrics
	log     *slog.Logger
}

func NewRouter(hub *Hub, store Store, tasks Tasks, metrics Metrics, log *slog.Logger) *Router {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Router{hub: hub, store: store, tasks: tasks, metrics: metrics, log: log}
}

// Delivery summarizes one Route call.
type Delivery struct {
	Pushed int
	Failed int
}

// Route pushes receive_message to every live session of the recipient and
// message_sent to origin. msg is stamped delivered when at least one push
// went through; the store update itself runs on the task queue and its
// failure is only logged. origin may be nil for REST sends, whose ack is the
// HTTP response.
func (r *Router) Route(ctx context.Context, msg *Message, origin Session) Delivery {
	var d Delivery

	// Sessions may hold on to what they are pushed, so each event gets its
	// own copy and msg can still be stamped afterwards.
	received := *msg
	for _, s := range r.hub.LiveHandles(msg.RecipientID) {
		if err := s.Push(ctx, Event{Name: EventReceiveMessage, Data: &received}); err != nil {
			d.Failed++
			r.metrics.PushResult(EventReceiveMessage, false)
			r.log.Warn("push failed, dropping session",
				slog.String("event", EventReceiveMessage),
				slog.String("user_id", msg.RecipientID),
				slog.String("session_id", s.ID()),
				slog.Any("error", err),
			)
			r.dropSession(s)
			continue
		}
		d.Pushed++
		r.metrics.PushResult(EventReceiveMessage, true)
	}

	if d.Pushed > 0 {
		now := Now()
		msg.IsDelivered = true
		msg.DeliveredAt = &now
		r.markDelivered(msg.ID)
	}

	if origin != nil {
		ack := *msg
		if err := origin.Push(ctx, Event{Name: EventMessageSent, Data: &ack}); err != nil {
			r.metrics.PushResult(EventMessageSent, false)
			r.log.Warn("ack push failed, dropping session",
				slog.String("user_id", origin.UserID()),
				slog.String("session_id", origin.ID()),
				slog.Any("error", err),
			)
			r.dropSession(origin)
		} else {
			r.metrics.PushResult(EventMessageSent, true)
		}
	}

	return d
}

// Notify pushes ev to every live session of userID, with the same dead
// session handling as Route. It reports how many pushes succeeded.
func (r *Router) Notify(ctx context.Context, userID string, ev Event) int {
	n := 0
	for _, s := range r.hub.LiveHandles(userID) {
		if err := s.Push(ctx, ev); err != nil {
			r.metrics.PushResult(ev.Name, false)
			r.dropSession(s)
			continue
		}
		r.metrics.PushResult(ev.Name, true)
		n++
	}
	return n
}

// Online reports whether userID has a live session on this relay.
func (r *Router) Online(userID string) bool {
	return r.hub.IsOnline(userID)
}

func (r *Router) markDelivered(messageID string) {
	ok := r.tasks.Submit("mark_delivered", func(ctx context.Context) error {
		return r.store.MarkDelivered(ctx, messageID)
	})
	if !ok {
		r.log.Warn("delivery state not recorded", slog.String("message_id", messageID))
	}
}

func (r *Router) dropSession(s Session) {
	if !r.tasks.Submit("drop_session", func(ctx context.Context) error {
		r.hub.Disconnect(ctx, s)
		return nil
	}) {
		// Queue saturated: close now so the socket pumps unwind and
		// unregister on their own.
		_ = s.Close()
	}
}
