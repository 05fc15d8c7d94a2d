package user

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"whchat/internal/middleware"
)

type Handler struct {
	Service *Service
	log     *slog.Logger
}

func NewHandler(s *Service, log *slog.Logger) *Handler {
	return &Handler{Service: s, log: log}
}

type authResponseBody struct {
	Message string  `json:"message"`
	Token   string  `json:"token"`
	User    Profile `json:"user"`
}

type userResponseBody struct {
	User *Profile `json:"user"`
}

type usersResponseBody struct {
	Users []Profile `json:"users"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	switch {
	case err == nil:
	case IsValidation(err):
		middleware.WriteError(w, http.StatusBadRequest, ValidationMessage(err))
		return
	case errors.Is(err, ErrEmailTaken):
		middleware.WriteError(w, http.StatusBadRequest, "User with this email already exists")
		return
	default:
		h.log.Error("registration failed", slog.Any("error", err))
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error during registration")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, authResponseBody{
		Message: "User registered successfully",
		Token:   res.Token,
		User:    res.User,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	switch {
	case err == nil:
	case IsValidation(err):
		middleware.WriteError(w, http.StatusBadRequest, "Email and password are required")
		return
	case errors.Is(err, ErrInvalidCredentials):
		middleware.WriteError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	default:
		h.log.Error("login failed", slog.Any("error", err))
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error during login")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, authResponseBody{
		Message: "Login successful",
		Token:   res.Token,
		User:    res.User,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	p, err := h.Service.GetProfile(r.Context(), userID)
	if errors.Is(err, ErrUserNotFound) {
		middleware.WriteError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	if err != nil {
		h.log.Error("profile lookup failed", slog.Any("error", err))
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to fetch user")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userResponseBody{User: p})
}

func (h *Handler) Contacts(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	users, err := h.Service.ListContacts(r.Context(), userID)
	if err != nil {
		h.log.Error("list contacts failed", slog.Any("error", err))
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to fetch users")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, usersResponseBody{Users: nonNil(users)})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	users, err := h.Service.Search(r.Context(), userID, r.URL.Query().Get("q"))
	if IsValidation(err) {
		middleware.WriteError(w, http.StatusBadRequest, "Search query must be at least 2 characters")
		return
	}
	if err != nil {
		h.log.Error("user search failed", slog.Any("error", err))
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to search users")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, usersResponseBody{Users: nonNil(users)})
}

func nonNil(p []Profile) []Profile {
	if p == nil {
		return []Profile{}
	}
	return p
}
