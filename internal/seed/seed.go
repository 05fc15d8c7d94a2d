// Package seed loads the demo account, its contacts and a few finished
// conversations so a fresh install has something to show.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"whchat/internal/chat"
	"whchat/internal/user"
)

const (
	DemoEmail    = "demo@whchat.com"
	DemoPassword = "demo123"
)

type person struct {
	key, name, email string
}

var people = []person{
	{"demo", "Demo User", DemoEmail},
	{"alice", "Alice Johnson", "alice@whchat.com"},
	{"bob", "Bob Smith", "bob@whchat.com"},
	{"carol", "Carol Davis", "carol@whchat.com"},
	{"david", "David Wilson", "david@whchat.com"},
}

type line struct {
	from, to, content string
}

var conversations = [][]line{
	{
		{"alice", "demo", "Hey! Welcome to WhChat! 👋"},
		{"demo", "alice", "Hi Alice! Thanks for the warm welcome!"},
		{"alice", "demo", "How are you finding the app so far?"},
		{"demo", "alice", "It's amazing! The interface is so clean and modern ✨"},
		{"alice", "demo", "I'm glad you like it! The real-time messaging is super fast too 🚀"},
	},
	{
		{"bob", "demo", "Hey there! I'm Bob, nice to meet you!"},
		{"demo", "bob", "Nice to meet you too, Bob! 😊"},
		{"bob", "demo", "Are you enjoying WhChat?"},
		{"demo", "bob", "Absolutely! The design is incredible"},
		{"bob", "demo", "Right? And it's so responsive! 💨"},
	},
	{
		{"carol", "demo", "Hi! I heard you're new here. Welcome! 🎉"},
		{"demo", "carol", "Thank you Carol! Everyone here is so friendly"},
		{"carol", "demo", "That's what makes WhChat special - great community! 💙"},
	},
}

type Seeder struct {
	users user.Repo
	store chat.Store
	log   *slog.Logger
}

func New(users user.Repo, store chat.Store, log *slog.Logger) *Seeder {
	return &Seeder{users: users, store: store, log: log}
}

// Run is a no-op once the demo account exists.
func (s *Seeder) Run(ctx context.Context) error {
	_, err := s.users.GetUserByEmail(ctx, DemoEmail)
	if err == nil {
		s.log.Info("demo data already present")
		return nil
	}
	if !errors.Is(err, user.ErrUserNotFound) {
		return fmt.Errorf("check demo user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	ids := make(map[string]string, len(people))
	now := time.Now().UTC()
	for _, p := range people {
		u := &user.User{
			ID:        uuid.NewString(),
			Name:      p.name,
			Email:     p.email,
			Password:  string(hash),
			CreatedAt: now,
		}
		if err := s.users.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("create %s: %w", p.email, err)
		}
		ids[p.key] = u.ID
	}

	count := 0
	for _, conv := range conversations {
		for _, l := range conv {
			_, err := s.store.Persist(ctx, chat.NewMessage{
				SenderID:    ids[l.from],
				RecipientID: ids[l.to],
				Content:     l.content,
				MessageType: chat.MessageTypeText,
			})
			if err != nil {
				return fmt.Errorf("seed message: %w", err)
			}
			count++
		}
		a, b := ids[conv[0].from], ids[conv[0].to]
		readAt := chat.Now()
		if _, err := s.store.MarkAllRead(ctx, a, b, readAt); err != nil {
			return err
		}
		if _, err := s.store.MarkAllRead(ctx, b, a, readAt); err != nil {
			return err
		}
	}

	s.log.Info("demo data seeded",
		slog.Int("users", len(people)),
		slog.Int("messages", count),
	)
	return nil
}
