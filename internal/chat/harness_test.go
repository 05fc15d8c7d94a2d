package chat_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"whchat/internal/chat"
	"whchat/internal/memstore"
	"whchat/internal/presence"
	"whchat/internal/user"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession records what it is pushed. pushErr makes every push fail.
type fakeSession struct {
	id     string
	userID string

	mu      sync.Mutex
	events  []chat.Event
	pushErr error
	closed  bool
}

func newFakeSession(userID string) *fakeSession {
	return &fakeSession{id: uuid.NewString(), userID: userID}
}

func (f *fakeSession) ID() string     { return f.id }
func (f *fakeSession) UserID() string { return f.userID }

func (f *fakeSession) Push(_ context.Context, ev chat.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return chat.ErrSessionClosed
	}
	if f.pushErr != nil {
		return f.pushErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushErr = err
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSession) named(name string) []chat.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Event
	for _, ev := range f.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

var errBroken = errors.New("broken pipe")

// inlineTasks runs every task synchronously, or rejects them all.
type inlineTasks struct {
	reject bool

	mu    sync.Mutex
	names []string
}

func (t *inlineTasks) Submit(name string, fn func(ctx context.Context) error) bool {
	if t.reject {
		return false
	}
	t.mu.Lock()
	t.names = append(t.names, name)
	t.mu.Unlock()
	_ = fn(context.Background())
	return true
}

func (t *inlineTasks) submitted() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.names...)
}

// harness wires the core over the in-memory stores.
type harness struct {
	users    *memstore.Users
	store    *memstore.Store
	presence *presence.MemoryStore
	dir      *user.Service
	registry *chat.Registry
	hub      *chat.Hub
	tasks    *inlineTasks
	router   *chat.Router
	svc      *chat.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := discardLogger()
	h := &harness{
		users:    memstore.NewUsers(),
		store:    memstore.New(),
		presence: presence.NewMemoryStore(),
		registry: chat.NewRegistry(),
		tasks:    &inlineTasks{},
	}
	h.dir = user.NewService(h.users, h.presence, "test-secret", time.Hour, log)
	h.hub = chat.NewHub(h.registry, h.dir, nil, log)
	h.router = chat.NewRouter(h.hub, h.store, h.tasks, nil, log)
	h.svc = chat.NewService(h.store, h.dir, h.router, chat.NewAggregator(h.store, h.dir), nil, log)
	return h
}

func (h *harness) addUser(t *testing.T, name string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, h.users.CreateUser(context.Background(), &user.User{
		ID:        id,
		Name:      name,
		Email:     name + "@whchat.test",
		Password:  "x",
		CreatedAt: time.Now().UTC(),
	}))
	return id
}

func (h *harness) connect(t *testing.T, userID string) *fakeSession {
	t.Helper()
	s := newFakeSession(userID)
	h.hub.Connect(context.Background(), s)
	return s
}

func (h *harness) send(t *testing.T, from, to, content string, origin chat.Session) *chat.Message {
	t.Helper()
	msg, err := h.svc.SubmitMessage(context.Background(), from, chat.SendRequest{Recipient: to, Content: content}, origin)
	require.NoError(t, err)
	return msg
}
