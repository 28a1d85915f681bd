// Package edge adapts the chat relay to a serverless function runtime: one
// http.HandlerFunc per deployment, no process-wide worker pool, persistence
// handed to the runtime's wait-until hook once the response is complete.
package edge

import (
	"net/http"
	"time"

	"portfolio-chat/internal/api/handlers"
	"portfolio-chat/internal/background"
	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/service/relay"
)

// DefaultClientIPHeader is set by the edge network in front of the function
const DefaultClientIPHeader = "CF-Connecting-IP"

// Options configures the edge handler
type Options struct {
	AllowedOrigin  string
	ClientIPHeader string
	TaskTimeout    time.Duration
	// WaitUntil receives a function that blocks until the request's
	// persistence tasks finish. The runtime keeps the invocation alive until
	// it returns. Defaults to running it on its own goroutine.
	WaitUntil func(wait func())
}

// Handler returns the /api/chat function. It never appends a [DONE] sentinel.
func Handler(service *relay.RelayService, opts Options) http.HandlerFunc {
	if opts.ClientIPHeader == "" {
		opts.ClientIPHeader = DefaultClientIPHeader
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 10 * time.Second
	}
	if opts.WaitUntil == nil {
		opts.WaitUntil = func(wait func()) { go wait() }
	}
	cors := handlers.ChatCORS(opts.AllowedOrigin)

	return cors.Wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			status, message := relay.StatusFor(relay.ErrMethodNotAllowed)
			handlers.SendError(w, status, message)
			return
		}

		tasks := background.NewGroup(opts.TaskTimeout)
		defer opts.WaitUntil(tasks.Wait)

		stream, err := service.HandleChatRequest(r.Context(), relay.Inbound{
			ClientIP:  handlers.ClientIP(r, opts.ClientIPHeader),
			UserAgent: r.UserAgent(),
			Body:      r.Body,
		}, tasks)
		if err != nil {
			status, message := relay.StatusFor(err)
			handlers.SendError(w, status, message)
			return
		}

		handlers.SetStreamHeaders(w)
		w.WriteHeader(http.StatusOK)

		flush := func() {}
		if flusher, ok := w.(http.Flusher); ok {
			flush = flusher.Flush
		}
		flush()

		if _, err := stream.Relay(w, flush); err != nil {
			logger.Log.WithError(err).WithField("session_id", stream.SessionID()).Debug("Edge stream ended early")
		}
	})
}
