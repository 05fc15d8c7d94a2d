package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"whchat/internal/user"
)

// Users is an in-process user.Repo with the same email uniqueness and
// ordering rules as the Postgres one.
type Users struct {
	mu      sync.RWMutex
	byID    map[string]user.User
	byEmail map[string]string
}

var _ user.Repo = (*Users)(nil)

func NewUsers() *Users {
	return &Users{
		byID:    make(map[string]user.User),
		byEmail: make(map[string]string),
	}
}

func (r *Users) CreateUser(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := r.byEmail[email]; ok {
		return user.ErrEmailTaken
	}
	r.byID[u.ID] = *u
	r.byEmail[email] = u.ID
	return nil
}

func (r *Users) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	u := r.byID[id]
	return &u, nil
}

func (r *Users) GetUserByID(_ context.Context, id string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &u, nil
}

func (r *Users) GetUsersByIDs(_ context.Context, ids []string) ([]user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.FilterMap(lo.Uniq(ids), func(id string, _ int) (user.User, bool) {
		u, ok := r.byID[id]
		return u, ok
	}), nil
}

func (r *Users) ListUsers(_ context.Context, excludeID string) ([]user.User, error) {
	return r.filter(excludeID, func(user.User) bool { return true }, 0), nil
}

// SearchUsers matches name or email case-insensitively.
func (r *Users) SearchUsers(_ context.Context, excludeID, query string, limit int) ([]user.User, error) {
	q := strings.ToLower(query)
	return r.filter(excludeID, func(u user.User) bool {
		return strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.Email), q)
	}, limit), nil
}

func (r *Users) filter(excludeID string, match func(user.User) bool, limit int) []user.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := lo.Filter(lo.Values(r.byID), func(u user.User, _ int) bool {
		return u.ID != excludeID && match(u)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Password = ""
	}
	return out
}
