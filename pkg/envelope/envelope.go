// Package envelope writes JSON responses and the uniform error body
// {"message": ..., "details": ...} shared by every resource endpoint.
package envelope

import (
	"encoding/json"
	"net/http"
)

// ContentType is the media type of every response body.
const ContentType = "application/json"

// Error is the uniform error body.
type Error struct {
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

var defaultMessages = map[int]string{
	http.StatusBadRequest:          "Bad Request",
	http.StatusNotFound:            "Not Found",
	http.StatusMethodNotAllowed:    "Method Not Allowed",
	http.StatusInternalServerError: "Internal Server Error",
}

// DefaultMessage returns the message used when none is given for status.
func DefaultMessage(status int) string {
	if msg, ok := defaultMessages[status]; ok {
		return msg
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return defaultMessages[http.StatusInternalServerError]
}

// WriteJSON writes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes an error envelope. An empty message is replaced by the
// status default.
func WriteError(w http.ResponseWriter, status int, message string, details map[string][]string) {
	if message == "" {
		message = DefaultMessage(status)
	}
	WriteJSON(w, status, Error{Message: message, Details: details})
}

// WriteStatus writes the default envelope of status.
func WriteStatus(w http.ResponseWriter, status int) {
	WriteError(w, status, "", nil)
}

// WriteEmpty writes status with an empty body.
func WriteEmpty(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
}

// Handler returns a handler answering every request with the default
// envelope of status.
func Handler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteStatus(w, status)
	})
}

// Handlers returns one handler per status, each bound to its own status.
func Handlers(statuses ...int) map[int]http.Handler {
	out := make(map[int]http.Handler, len(statuses))
	for _, status := range statuses {
		out[status] = Handler(status)
	}
	return out
}
