package presence

import (
	"context"
	"sync"
	"time"

	"whchat/internal/user"
)

// MemoryStore serves single-node runs that have no Redis.
type MemoryStore struct {
	mu    sync.RWMutex
	state map[string]user.Presence
}

var _ user.PresenceStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string]user.Presence)}
}

func (s *MemoryStore) SetOnline(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[userID] = user.Presence{Online: true, LastSeen: at}
	return nil
}

func (s *MemoryStore) SetOffline(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[userID] = user.Presence{Online: false, LastSeen: at}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userIDs ...string) (map[string]user.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]user.Presence, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.state[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
