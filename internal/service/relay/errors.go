package relay

import (
	"errors"
	"net/http"
)

var (
	// ErrRateLimited is returned when the client has used up its window
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvalidMessage is returned for malformed bodies and messages that fail validation
	ErrInvalidMessage = errors.New("invalid message")
	// ErrMethodNotAllowed is returned by adapters for unsupported methods
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// StatusFor maps an error from HandleChatRequest to the HTTP status and the
// message shown to the caller. Internal detail never leaves this function.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, "Method not allowed"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "Rate limit exceeded"
	case errors.Is(err, ErrInvalidMessage):
		return http.StatusBadRequest, "Invalid message"
	default:
		return http.StatusInternalServerError, "Failed to process request"
	}
}
