// Package httpapi assembles the chi router for the REST API, the websocket
// endpoint and the operational routes.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"whchat/internal/chat"
	"whchat/internal/middleware"
	"whchat/internal/user"
)

type Deps struct {
	Users          *user.Handler
	Chat           *chat.Handler
	Auth           *middleware.AuthMiddleware
	SendLimiter    *middleware.RateLimiter
	Metrics        http.Handler
	AllowedOrigins []string
	Log            *slog.Logger
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(d.Log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "Server is running", Timestamp: time.Now().UTC()})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", d.Users.Register)
		r.Post("/login", d.Users.Login)
		r.With(d.Auth.Handle).Get("/me", d.Users.Me)
	})

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Handle)

		r.Get("/ws", d.Chat.ServeWs)

		r.Route("/api/chat", func(r chi.Router) {
			r.Get("/users", d.Users.Contacts)
			r.Get("/search/users", d.Users.Search)
			r.Get("/conversations", d.Chat.GetConversations)
			r.Get("/unread-count", d.Chat.UnreadCount)
			r.Get("/messages/{userId}", d.Chat.GetMessages)
			r.Patch("/messages/read/{userId}", d.Chat.MarkRead)
			if d.SendLimiter != nil {
				r.With(d.SendLimiter.Middleware).Post("/messages", d.Chat.SendMessage)
			} else {
				r.Post("/messages", d.Chat.SendMessage)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Route not found")
	})
	return r
}
