package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"whchat/internal/middleware"
)

type Handler struct {
	service  *Service
	hub      *Hub
	limiter  Limiter
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler serves the chat REST endpoints and the websocket upgrade. An
// empty allowedOrigins accepts any origin.
func NewHandler(service *Service, hub *Hub, limiter Limiter, allowedOrigins []string, log *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		limiter: limiter,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowedOrigins) == 0 || origin == "" || lo.Contains(allowedOrigins, origin)
			},
		},
	}
}

// ServeWs upgrades an authenticated request and blocks in the read pump, so
// the request context lives as long as the connection.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Access token required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := NewClient(conn, userID, h.hub, h.service, h.limiter, h.log)
	h.hub.Connect(r.Context(), client)

	go client.WritePump()
	client.ReadPump(r.Context())
}

type conversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	convs, err := h.service.RecentConversations(r.Context(), userID)
	if err != nil {
		h.internal(w, "Failed to fetch conversations", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, conversationsResponse{Conversations: convs})
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	otherID := chi.URLParam(r, "userId")
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", DefaultPageSize)

	res, err := h.service.OpenConversation(r.Context(), userID, otherID, page, limit)
	if err != nil {
		h.fail(w, "Failed to fetch messages", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

type sendResponse struct {
	Message string   `json:"message"`
	Data    *Message `json:"data"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := h.service.SubmitMessage(r.Context(), userID, req, nil)
	if err != nil {
		h.fail(w, "Failed to send message", err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, sendResponse{Message: "Message sent successfully", Data: msg})
}

type markReadResponse struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	n, err := h.service.MarkConversationRead(r.Context(), userID, chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, "Failed to mark messages as read", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, markReadResponse{Message: "Messages marked as read", Count: n})
}

type unreadResponse struct {
	UnreadCount int `json:"unreadCount"`
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	n, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		h.internal(w, "Failed to get unread count", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, unreadResponse{UnreadCount: n})
}

// fail maps service errors onto status codes. Only validation and not-found
// messages reach the client verbatim.
func (h *Handler) fail(w http.ResponseWriter, fallback string, err error) {
	switch {
	case IsValidation(err):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case IsNotFound(err):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	default:
		h.internal(w, fallback, err)
	}
}

func (h *Handler) internal(w http.ResponseWriter, message string, err error) {
	h.log.Error(message, slog.Any("error", err))
	middleware.WriteError(w, http.StatusInternalServerError, message)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
