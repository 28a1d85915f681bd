package handlers

import (
	"net/http"

	"portfolio-chat/internal/app"
	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/service/relay"

	"github.com/sirupsen/logrus"
)

var doneSentinel = []byte("data: [DONE]\n\n")

// ChatHandlers serves the public chat endpoint of the long-running process
type ChatHandlers struct {
	config *app.Config
}

// NewChatHandlers creates new ChatHandlers
func NewChatHandlers(config *app.Config) *ChatHandlers {
	return &ChatHandlers{config: config}
}

// ChatStreamHandler relays one visitor message to the upstream provider and
// streams the event stream back verbatim
func (ch *ChatHandlers) ChatStreamHandler(w http.ResponseWriter, r *http.Request) {
	m := ch.config.Metrics

	if r.Method != http.MethodPost {
		status, message := relay.StatusFor(relay.ErrMethodNotAllowed)
		m.ChatRequestInc(status)
		SendError(w, status, message)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Log.Error("Streaming not supported by response writer")
		m.ChatRequestInc(http.StatusInternalServerError)
		SendError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}

	stream, err := ch.config.Relay.HandleChatRequest(r.Context(), relay.Inbound{
		ClientIP:  ClientIP(r, ch.config.AppConfig.Server.ClientIPHeader),
		UserAgent: r.UserAgent(),
		Body:      r.Body,
	}, ch.config.Tasks)
	if err != nil {
		status, message := relay.StatusFor(err)
		m.ChatRequestInc(status)
		SendError(w, status, message)
		return
	}

	SetStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	m.ChatRequestInc(http.StatusOK)

	transcript, err := stream.Relay(w, flusher.Flush)
	if err != nil {
		return
	}

	if ch.config.AppConfig.Server.SendDoneSentinel {
		if _, err := w.Write(doneSentinel); err != nil {
			logger.Log.WithError(err).Debug("Error writing done sentinel")
		} else {
			flusher.Flush()
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"session_id":  stream.SessionID(),
		"response_id": transcript.ResponseID,
		"completed":   transcript.Completed,
	}).Info("Chat response streamed")
}
