package middleware

import (
	"encoding/json"
	"net/http"
)

type ErrorResponseBody struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the {"error": "..."} body every endpoint uses. Internal
// failures should pass a generic message; details belong in the log.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponseBody{Error: message})
}
