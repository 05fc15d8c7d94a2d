//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_session.go -package=mocks
package chat

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Session is one live connection of an authenticated user. Push must not
// block and must encode ev before returning; it fails with ErrSessionClosed
// or ErrSlowConsumer.
type Session interface {
	ID() string
	UserID() string
	Push(ctx context.Context, ev Event) error
	Close() error
}

const shardCount = 32

type userShard struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Session // userID -> sessionID -> session
}

type ownerShard struct {
	mu    sync.Mutex
	owner map[string]string // sessionID -> userID
}

// Registry maps user ids to their live sessions. Both maps are sharded by
// xxhash of the key so connects and lookups for different users rarely
// contend.
type Registry struct {
	users  [shardCount]userShard
	owners [shardCount]ownerShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.users {
		r.users[i].sessions = make(map[string]map[string]Session)
		r.owners[i].owner = make(map[string]string)
	}
	return r
}

func shardOf(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

// Register adds s under userID and reports whether it is the user's first
// live session.
func (r *Registry) Register(userID string, s Session) bool {
	own := &r.owners[shardOf(s.ID())]
	own.mu.Lock()
	defer own.mu.Unlock()
	if prev, ok := own.owner[s.ID()]; ok {
		if prev == userID {
			return false
		}
		r.removeLocked(prev, s.ID())
	}
	own.owner[s.ID()] = userID

	us := &r.users[shardOf(userID)]
	us.mu.Lock()
	defer us.mu.Unlock()
	set, ok := us.sessions[userID]
	if !ok {
		set = make(map[string]Session)
		us.sessions[userID] = set
	}
	set[s.ID()] = s
	return len(set) == 1
}

// Unregister removes s from whichever user it was registered under. ok is
// false when s was not registered; last is true when that user has no live
// session left.
func (r *Registry) Unregister(s Session) (userID string, last bool, ok bool) {
	own := &r.owners[shardOf(s.ID())]
	own.mu.Lock()
	defer own.mu.Unlock()
	userID, ok = own.owner[s.ID()]
	if !ok {
		return "", false, false
	}
	delete(own.owner, s.ID())
	last = r.removeLocked(userID, s.ID())
	return userID, last, true
}

// removeLocked needs the owner shard lock of sessionID held.
func (r *Registry) removeLocked(userID, sessionID string) bool {
	us := &r.users[shardOf(userID)]
	us.mu.Lock()
	defer us.mu.Unlock()
	set := us.sessions[userID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(us.sessions, userID)
		return true
	}
	return false
}

// LiveHandles returns a snapshot; it is safe to push to it without holding
// any registry lock.
func (r *Registry) LiveHandles(userID string) []Session {
	us := &r.users[shardOf(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	set := us.sessions[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	us := &r.users[shardOf(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.sessions[userID]) > 0
}

// Count is the number of live sessions across all users.
func (r *Registry) Count() int {
	n := 0
	for i := range r.users {
		us := &r.users[i]
		us.mu.RLock()
		for _, set := range us.sessions {
			n += len(set)
		}
		us.mu.RUnlock()
	}
	return n
}

// Drain removes and returns every registered session.
func (r *Registry) Drain() []Session {
	var out []Session
	for i := range r.owners {
		own := &r.owners[i]
		own.mu.Lock()
		for sid, uid := range own.owner {
			us := &r.users[shardOf(uid)]
			us.mu.Lock()
			if s, ok := us.sessions[uid][sid]; ok {
				out = append(out, s)
			}
			us.mu.Unlock()
			r.removeLocked(uid, sid)
			delete(own.owner, sid)
		}
		own.mu.Unlock()
	}
	return out
}
