package chat_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whchat/internal/chat"
	"whchat/internal/db"
	"whchat/internal/user"
)

func newPostgresRepository(t *testing.T) (*chat.Repository, *user.Repository) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, db.RunMigrations(url))

	d, err := db.NewDatabase(context.Background(), url, db.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	_, err = d.Conn.Exec(`TRUNCATE messages, users CASCADE`)
	require.NoError(t, err)

	users := user.NewRepository(d.Conn)
	for _, id := range []string{"demo", "alice", "bob"} {
		require.NoError(t, users.CreateUser(context.Background(), &user.User{
			ID: id, Name: id, Email: id + "@example.com", Password: "x", CreatedAt: time.Now().UTC(),
		}))
	}
	return chat.NewRepository(d.Conn), users
}

func TestRepository_Postgres(t *testing.T) {
	req := require.New(t)
	repo, users := newPostgresRepository(t)
	ctx := context.Background()

	persist := func(from, to, content string) *chat.Message {
		m, err := repo.Persist(ctx, chat.NewMessage{SenderID: from, RecipientID: to, Content: content})
		req.NoError(err)
		return m
	}

	m1 := persist("demo", "alice", "one")
	m2 := persist("alice", "demo", "two")
	persist("bob", "demo", "three")

	page, err := repo.GetConversation(ctx, "alice", "demo", 10, 0)
	req.NoError(err)
	req.Len(page, 2)
	req.Equal(m2.ID, page[0].ID)
	req.Equal(m1.ID, page[1].ID)

	req.NoError(repo.MarkDelivered(ctx, m1.ID))
	req.NoError(repo.MarkRead(ctx, m2.ID))
	page, err = repo.GetConversation(ctx, "demo", "alice", 10, 0)
	req.NoError(err)
	req.True(page[0].IsRead)
	req.True(page[0].IsDelivered)
	req.NotNil(page[0].DeliveredAt)
	req.True(page[1].IsDelivered)
	req.False(page[1].IsRead)

	unread, err := repo.UnreadCount(ctx, "demo")
	req.NoError(err)
	req.Equal(1, unread)

	rows, err := repo.RecentConversations(ctx, "demo")
	req.NoError(err)
	req.Len(rows, 2)
	req.Equal("bob", rows[0].ContactID)
	req.Equal(1, rows[0].UnreadCount)
	req.Equal("alice", rows[1].ContactID)
	req.Zero(rows[1].UnreadCount)

	n, err := repo.MarkAllRead(ctx, "demo", "bob", chat.Now())
	req.NoError(err)
	req.EqualValues(1, n)
	n, err = repo.MarkAllRead(ctx, "demo", "bob", chat.Now())
	req.NoError(err)
	req.Zero(n)

	err = users.CreateUser(ctx, &user.User{ID: "dup", Name: "dup", Email: "demo@example.com", Password: "x"})
	req.ErrorIs(err, user.ErrEmailTaken)
}
