package chat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Hub owns the session registry and the presence side effects of
// connecting and disconnecting. Socket close and push-failure cleanup both
// end in Disconnect, and only the call that actually removes the last
// session flips the user offline.
//
// A registry change and the presence write it causes happen under the
// user's presence lock, so the last write for a user always matches the
// registry.
type Hub struct {
	registry  *Registry
	directory Directory
	metrics   Metrics
	log       *slog.Logger

	presenceMu [shardCount]sync.Mutex
	closed     atomic.Bool
}

func NewHub(registry *Registry, directory Directory, metrics Metrics, log *slog.Logger) *Hub {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Hub{registry: registry, directory: directory, metrics: metrics, log: log}
}

func (h *Hub) lockPresence(userID string) func() {
	mu := &h.presenceMu[shardOf(userID)]
	mu.Lock()
	return mu.Unlock
}

// Connect registers s. After Shutdown it closes s instead.
func (h *Hub) Connect(ctx context.Context, s Session) {
	unlock := h.lockPresence(s.UserID())
	defer unlock()

	if h.closed.Load() {
		_ = s.Close()
		return
	}
	first := h.registry.Register(s.UserID(), s)
	h.metrics.SessionsChanged(h.registry.Count())
	h.log.Info("session connected",
		slog.String("user_id", s.UserID()),
		slog.String("session_id", s.ID()),
	)
	if first {
		if err := h.directory.SetOnline(ctx, s.UserID()); err != nil {
			h.log.Warn("presence update failed", slog.String("user_id", s.UserID()), slog.Any("error", err))
		}
	}
}

// Disconnect is idempotent. It closes the session whether or not it was
// still registered.
func (h *Hub) Disconnect(ctx context.Context, s Session) {
	unlock := h.lockPresence(s.UserID())
	defer unlock()

	userID, last, ok := h.registry.Unregister(s)
	_ = s.Close()
	if !ok {
		return
	}
	h.metrics.SessionsChanged(h.registry.Count())
	h.log.Info("session disconnected",
		slog.String("user_id", userID),
		slog.String("session_id", s.ID()),
	)
	if last {
		h.setOffline(ctx, userID)
	}
}

func (h *Hub) setOffline(ctx context.Context, userID string) {
	if err := h.directory.SetOffline(ctx, userID); err != nil {
		h.log.Warn("presence update failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func (h *Hub) LiveHandles(userID string) []Session {
	return h.registry.LiveHandles(userID)
}

func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// Shutdown closes every live session and marks their users offline. Later
// connects are refused.
func (h *Hub) Shutdown(ctx context.Context) {
	h.closed.Store(true)
	sessions := h.registry.Drain()
	offline := make(map[string]struct{})
	for _, s := range sessions {
		_ = s.Close()
		offline[s.UserID()] = struct{}{}
	}
	for userID := range offline {
		unlock := h.lockPresence(userID)
		h.setOffline(ctx, userID)
		unlock()
	}
	h.metrics.SessionsChanged(0)
	h.log.Info("hub shut down", slog.Int("closed_sessions", len(sessions)))
}
