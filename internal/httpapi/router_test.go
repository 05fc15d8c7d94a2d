package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"whchat/internal/chat"
	"whchat/internal/httpapi"
	"whchat/internal/memstore"
	"whchat/internal/metrics"
	"whchat/internal/middleware"
	"whchat/internal/presence"
	"whchat/internal/user"
	"whchat/internal/worker"
)

func newServer(t *testing.T) http.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	tasks := worker.NewQueue(worker.DefaultConfig(), log, collector)
	require.NoError(t, tasks.Start(context.Background()))
	t.Cleanup(func() { _ = tasks.Stop(context.Background()) })

	chatStore := memstore.New()
	users := user.NewService(memstore.NewUsers(), presence.NewMemoryStore(), "secret", time.Hour, log)
	hub := chat.NewHub(chat.NewRegistry(), users, collector, log)
	router := chat.NewRouter(hub, chatStore, tasks, collector, log)
	svc := chat.NewService(chatStore, users, router, chat.NewAggregator(chatStore, users), collector, log)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 2, CleanupInterval: time.Minute})
	t.Cleanup(limiter.Stop)

	return httpapi.NewRouter(httpapi.Deps{
		Users:       user.NewHandler(users, log),
		Chat:        chat.NewHandler(svc, hub, limiter, nil, log),
		Auth:        middleware.NewAuthMiddleware(users),
		SendLimiter: limiter,
		Metrics:     metrics.Handler(reg),
		Log:         log,
	})
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type authBody struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    user.Profile `json:"user"`
}

func register(t *testing.T, h http.Handler, name, email string) authBody {
	t.Helper()
	w := call(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "secret1", "confirmPassword": "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body authBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRouter_HealthAndNotFound(t *testing.T) {
	h := newServer(t)

	w := call(t, h, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"Server is running"`)

	w = call(t, h, http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"Route not found"}`, w.Body.String())
}

func TestRouter_ChatRequiresToken(t *testing.T) {
	h := newServer(t)

	for _, path := range []string{"/api/chat/conversations", "/api/chat/unread-count", "/api/auth/me", "/ws"} {
		w := call(t, h, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	w := call(t, h, http.MethodGet, "/api/chat/conversations", "forged", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_RegisterLoginAndChat(t *testing.T) {
	h := newServer(t)
	demo := register(t, h, "Demo", "demo@example.com")
	alice := register(t, h, "Alice", "alice@example.com")
	require.Equal(t, "User registered successfully", demo.Message)

	w := call(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Again", "email": "DEMO@example.com", "password": "secret1", "confirmPassword": "secret1",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"User with this email already exists"}`, w.Body.String())

	w = call(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = call(t, h, http.MethodGet, "/api/auth/me", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), alice.User.ID)

	w = call(t, h, http.MethodGet, "/api/chat/users", demo.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), alice.User.ID)
	require.NotContains(t, w.Body.String(), `"password"`)

	w = call(t, h, http.MethodGet, "/api/chat/search/users?q=a", demo.Token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	send := map[string]string{"recipient": alice.User.ID, "content": "hi"}
	require.Equal(t, http.StatusCreated, call(t, h, http.MethodPost, "/api/chat/messages", demo.Token, send).Code)
	require.Equal(t, http.StatusCreated, call(t, h, http.MethodPost, "/api/chat/messages", demo.Token, send).Code)
	w = call(t, h, http.MethodPost, "/api/chat/messages", demo.Token, send)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	w = call(t, h, http.MethodGet, "/api/chat/unread-count", alice.Token, nil)
	require.JSONEq(t, `{"unreadCount":2}`, w.Body.String())

	w = call(t, h, http.MethodGet, "/api/chat/messages/"+demo.User.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = call(t, h, http.MethodGet, "/api/chat/unread-count", alice.Token, nil)
	require.JSONEq(t, `{"unreadCount":0}`, w.Body.String())

	w = call(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "whchat_messages_persisted_total")
}
