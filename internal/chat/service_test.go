package chat_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"whchat/internal/chat"
	"whchat/internal/mocks"
	"whchat/internal/user"
)

func TestService_SubmitMessageRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	demo, alice := h.addUser(t, "demo"), h.addUser(t, "alice")
	ctx := context.Background()

	cases := []struct {
		name string
		req  chat.SendRequest
		want string
	}{
		{"missing recipient", chat.SendRequest{Content: "hi"}, "Recipient is required"},
		{"self", chat.SendRequest{Recipient: demo, Content: "hi"}, "Cannot send a message to yourself"},
		{"blank content", chat.SendRequest{Recipient: alice, Content: "   "}, "Message content is required"},
		{"too long", chat.SendRequest{Recipient: alice, Content: strings.Repeat("é", chat.MaxContentLength+1)}, "Message cannot exceed 1000 characters"},
		{"bad type", chat.SendRequest{Recipient: alice, Content: "hi", MessageType: "video"}, "Message type must be one of text, image, file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.SubmitMessage(ctx, demo, tc.req, nil)
			require.ErrorIs(t, err, chat.ErrValidation)
			require.EqualError(t, err, tc.want)
		})
	}

	page, err := h.store.GetConversation(ctx, demo, alice, 10, 0)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestService_SubmitMessageAcceptsBoundaryLength(t *testing.T) {
	h := newHarness(t)
	demo, alice := h.addUser(t, "demo"), h.addUser(t, "alice")

	msg := h.send(t, demo, alice, "  "+strings.Repeat("a", chat.MaxContentLength)+"  ", nil)

	require.Len(t, msg.Content, chat.MaxContentLength)
	require.Equal(t, chat.MessageTypeText, msg.MessageType)
}

func TestService_SubmitMessageUnknownRecipient(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	dir := mocks.NewMockDirectory(ctrl)
	hub := chat.NewHub(chat.NewRegistry(), dir, nil, discardLogger())
	router := chat.NewRouter(hub, store, &inlineTasks{}, nil, discardLogger())
	svc := chat.NewService(store, dir, router, chat.NewAggregator(store, dir), nil, discardLogger())

	dir.EXPECT().Exists(gomock.Any(), "ghost").Return(false, nil)
	store.EXPECT().Persist(gomock.Any(), gomock.Any()).Times(0)

	_, err := svc.SubmitMessage(context.Background(), "demo", chat.SendRequest{Recipient: "ghost", Content: "hi"}, nil)

	require.ErrorIs(t, err, chat.ErrNotFound)
	require.EqualError(t, err, "Recipient not found")
}

func TestService_SubmitMessageStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	dir := mocks.NewMockDirectory(ctrl)
	hub := chat.NewHub(chat.NewRegistry(), dir, nil, discardLogger())
	router := chat.NewRouter(hub, store, &inlineTasks{}, nil, discardLogger())
	svc := chat.NewService(store, dir, router, chat.NewAggregator(store, dir), nil, discardLogger())

	dir.EXPECT().Exists(gomock.Any(), "alice").Return(true, nil)
	store.EXPECT().Persist(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

	origin := newFakeSession("demo")
	_, err := svc.SubmitMessage(context.Background(), "demo", chat.SendRequest{Recipient: "alice", Content: "hi"}, origin)

	require.Error(t, err)
	require.False(t, chat.IsClientError(err))
	require.Empty(t, origin.named(chat.EventMessageSent), "no ack for a message that was not stored")
}

// Demo writes to Alice while she is offline, then Alice opens the chat.
func TestService_OfflineRecipientPullsOnOpen(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	demo, alice := h.addUser(t, "demo"), h.addUser(t, "alice")
	demoSession := h.connect(t, demo)

	first := h.send(t, demo, alice, "are you there?", demoSession)
	second := h.send(t, demo, alice, "ping me", demoSession)
	req.False(first.IsDelivered)

	unread, err := h.svc.UnreadCount(ctx, alice)
	req.NoError(err)
	req.Equal(2, unread)

	page, err := h.svc.OpenConversation(ctx, alice, demo, 1, 50)
	req.NoError(err)
	req.Equal(demo, page.OtherUser.ID)
	req.True(page.OtherUser.IsOnline)
	req.Len(page.Messages, 2)
	req.Equal(first.ID, page.Messages[0].ID, "oldest first")
	req.Equal(second.ID, page.Messages[1].ID)

	unread, err = h.svc.UnreadCount(ctx, alice)
	req.NoError(err)
	req.Zero(unread)

	history, err := h.store.GetConversation(ctx, demo, alice, 10, 0)
	req.NoError(err)
	for _, m := range history {
		req.True(m.IsRead)
		req.True(m.IsDelivered, "read implies delivered")
		req.NotNil(m.ReadAt)
	}

	receipts := demoSession.named(chat.EventMessagesRead)
	req.Len(receipts, 1)
	receipt := receipts[0].Data.(chat.ReadReceipt)
	req.Equal(alice, receipt.ReaderID)
	req.EqualValues(2, receipt.Count)
	req.True(receipt.ReadAt.Equal(*history[0].ReadAt), "receipt carries the stored readAt")
}

func TestService_OpenConversationMarksOnlyIncoming(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	demo, alice := h.addUser(t, "demo"), h.addUser(t, "alice")

	h.send(t, demo, alice, "to alice", nil)
	h.send(t, alice, demo, "to demo", nil)

	_, err := h.svc.OpenConversation(ctx, alice, demo, 1, 50)
	req.NoError(err)

	n, err := h.svc.UnreadCount(ctx, demo)
	req.NoError(err)
	req.Equal(1, n, "alice opening the chat does not read demo's inbox")
}

func TestService_MarkConversationReadIsIdempotent(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	demo, alice := h.addUser(t, "demo"), h.addUser(t, "alice")
	demoSession := h.connect(t, demo)

	h.send(t, demo, alice, "one", nil)
	h.send(t, demo, alice, "two", nil)

	n, err := h.svc.MarkConversationRead(ctx, alice, demo)
	req.NoError(err)
	req.EqualValues(2, n)

	n, err = h.svc.MarkConversationRead(ctx, alice, demo)
	req.NoError(err)
	req.Zero(n)
	req.Len(demoSession.named(chat.EventMessagesRead), 1, "no receipt when nothing changed")

	_, err = h.svc.MarkConversationRead(ctx, alice, "")
	req.ErrorIs(err, chat.ErrValidation)
}

func TestService_OpenConversationUnknownUser(t *testing.T) {
	h := newHarness(t)
	demo := h.addUser(t, "demo")

	_, err := h.svc.OpenConversation(context.Background(), demo, "ghost", 1, 50)

	require.ErrorIs(t, err, chat.ErrNotFound)
	require.EqualError(t, err, "User not found")
}

func TestService_OpenConversationSwallowsReadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	dir := mocks.NewMockDirectory(ctrl)
	hub := chat.NewHub(chat.NewRegistry(), dir, nil, discardLogger())
	router := chat.NewRouter(hub, store, &inlineTasks{}, nil, discardLogger())
	svc := chat.NewService(store, dir, router, chat.NewAggregator(store, dir), nil, discardLogger())

	newest := &chat.Message{ID: "m2", SenderID: "alice", RecipientID: "demo", Content: "b"}
	oldest := &chat.Message{ID: "m1", SenderID: "demo", RecipientID: "alice", Content: "a"}

	dir.EXPECT().GetProfile(gomock.Any(), "alice").Return(&user.Profile{ID: "alice", Name: "Alice"}, nil)
	store.EXPECT().GetConversation(gomock.Any(), "demo", "alice", 20, 20).Return([]*chat.Message{newest, oldest}, nil)
	store.EXPECT().MarkAllRead(gomock.Any(), "demo", "alice", gomock.Any()).Return(int64(0), errors.New("deadlock detected"))

	page, err := svc.OpenConversation(context.Background(), "demo", "alice", 2, 20)

	require.NoError(t, err)
	require.Equal(t, []*chat.Message{oldest, newest}, page.Messages)
	require.Equal(t, "Alice", page.OtherUser.Name)
}

func TestService_MarkConversationReadSurfacesFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	dir := mocks.NewMockDirectory(ctrl)
	hub := chat.NewHub(chat.NewRegistry(), dir, nil, discardLogger())
	router := chat.NewRouter(hub, store, &inlineTasks{}, nil, discardLogger())
	svc := chat.NewService(store, dir, router, chat.NewAggregator(store, dir), nil, discardLogger())

	store.EXPECT().MarkAllRead(gomock.Any(), "demo", "alice", gomock.Any()).Return(int64(0), errors.New("deadlock detected"))

	_, err := svc.MarkConversationRead(context.Background(), "demo", "alice")
	require.Error(t, err)
}

func TestService_EmptyConversationIsEmptySlice(t *testing.T) {
	h := newHarness(t)
	demo, alice := h.addUser(t, "demo"), h.addUser(t, "alice")

	page, err := h.svc.OpenConversation(context.Background(), demo, alice, 1, 0)

	require.NoError(t, err)
	require.NotNil(t, page.Messages)
	require.Empty(t, page.Messages)
}

func TestService_OpenConversationHugePageIsEmpty(t *testing.T) {
	h := newHarness(t)
	demo, alice := h.addUser(t, "demo"), h.addUser(t, "alice")
	h.send(t, demo, alice, "only message", nil)

	page, err := h.svc.OpenConversation(context.Background(), alice, demo, math.MaxInt, 50)

	require.NoError(t, err)
	require.Empty(t, page.Messages, "an out of range page must not wrap around to page one")
}

func TestService_RequestRulesNameTheField(t *testing.T) {
	h := newHarness(t)
	demo, alice := h.addUser(t, "demo"), h.addUser(t, "alice")
	ctx := context.Background()

	_, err := h.svc.SubmitMessage(ctx, demo, chat.SendRequest{Recipient: alice}, nil)
	var verr *chat.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "content", verr.Field)

	_, err = h.svc.SubmitMessage(ctx, demo, chat.SendRequest{Recipient: alice, Content: "hi", MessageType: "gif"}, nil)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "messageType", verr.Field)
	require.Equal(t, "Message type must be one of text, image, file", verr.Reason)

	_, err = h.svc.MarkConversationRead(ctx, alice, "")
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "userId", verr.Field)
	require.EqualError(t, err, "User id is required")
}

func TestService_OpenConversationOnlineFromLiveSessions(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	dir := mocks.NewMockDirectory(ctrl)
	hub := chat.NewHub(chat.NewRegistry(), dir, nil, discardLogger())
	router := chat.NewRouter(hub, store, &inlineTasks{}, nil, discardLogger())
	svc := chat.NewService(store, dir, router, chat.NewAggregator(store, dir), nil, discardLogger())

	dir.EXPECT().SetOnline(gomock.Any(), "alice").Return(errBroken)
	hub.Connect(context.Background(), newFakeSession("alice"))

	dir.EXPECT().GetProfile(gomock.Any(), "alice").Return(&user.Profile{ID: "alice"}, nil)
	store.EXPECT().GetConversation(gomock.Any(), "demo", "alice", 50, 0).Return(nil, nil)
	store.EXPECT().MarkAllRead(gomock.Any(), "demo", "alice", gomock.Any()).Return(int64(0), nil)

	page, err := svc.OpenConversation(context.Background(), "demo", "alice", 1, 50)

	require.NoError(t, err)
	require.True(t, page.OtherUser.IsOnline, "a live session wins over a failed presence write")
}
