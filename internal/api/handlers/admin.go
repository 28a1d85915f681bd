package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"portfolio-chat/internal/app"
	"portfolio-chat/internal/auth"
	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/repository/db"

	"github.com/samber/lo"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
)

type SessionInfo struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"session_id"`
	StartedAt      string  `json:"started_at"`
	LastActivityAt string  `json:"last_activity_at"`
	EndedAt        *string `json:"ended_at,omitempty"`
	MessageCount   int     `json:"message_count"`
	IPHash         string  `json:"ip_hash,omitempty"`
	UserAgent      string  `json:"user_agent,omitempty"`
}

type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type MessageData struct {
	ID               string  `json:"id"`
	Role             string  `json:"role"`
	Content          string  `json:"content"`
	OpenAIResponseID *string `json:"openai_response_id,omitempty"`
	TokensUsed       *int    `json:"tokens_used,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type MessagesResponse struct {
	Messages []MessageData `json:"messages"`
}

type EndSessionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AdminHandlers serves the operator analytics API
type AdminHandlers struct {
	config *app.Config
}

// NewAdminHandlers creates new AdminHandlers
func NewAdminHandlers(config *app.Config) *AdminHandlers {
	return &AdminHandlers{config: config}
}

// ListSessionsHandler returns the most recently active sessions
func (ah *AdminHandlers) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			auth.SendError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = min(n, maxSessionLimit)
	}

	sessions, err := ah.config.Conversations.ListSessions(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("Error listing sessions")
		auth.SendError(w, http.StatusInternalServerError, "Error retrieving sessions", nil)
		return
	}

	sendJSON(w, SessionsResponse{
		Sessions: lo.Map(sessions, func(s db.Session, _ int) SessionInfo {
			info := SessionInfo{
				ID:             s.ID,
				SessionID:      s.SessionID,
				StartedAt:      s.StartedAt.Format(time.RFC3339),
				LastActivityAt: s.LastActivityAt.Format(time.RFC3339),
				MessageCount:   s.MessageCount,
				IPHash:         s.IPHash,
				UserAgent:      s.UserAgent,
			}
			if s.EndedAt != nil {
				info.EndedAt = lo.ToPtr(s.EndedAt.Format(time.RFC3339))
			}
			return info
		}),
	})
}

// SessionMessagesHandler returns the messages of one session, oldest first
func (ah *AdminHandlers) SessionMessagesHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	messages, err := ah.config.Conversations.GetHistory(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			auth.SendError(w, http.StatusNotFound, "Session not found", nil)
			return
		}
		logger.Log.WithError(err).WithField("id", id).Error("Error retrieving messages")
		auth.SendError(w, http.StatusInternalServerError, "Error retrieving messages", nil)
		return
	}

	sendJSON(w, MessagesResponse{
		Messages: lo.Map(messages, func(msg db.Message, _ int) MessageData {
			return MessageData{
				ID:               msg.ID,
				Role:             msg.Role,
				Content:          msg.Content,
				OpenAIResponseID: msg.OpenAIResponseID,
				TokensUsed:       msg.TokensUsed,
				CreatedAt:        msg.CreatedAt.Format(time.RFC3339),
			}
		}),
	})
}

// EndSessionHandler marks a session as ended
func (ah *AdminHandlers) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := ah.config.Conversations.EndSession(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			auth.SendError(w, http.StatusNotFound, "Session not found", nil)
			return
		}
		logger.Log.WithError(err).WithField("id", id).Error("Error ending session")
		auth.SendError(w, http.StatusInternalServerError, "Error ending session", nil)
		return
	}

	logger.Log.WithField("id", id).Info("Session ended by operator")
	sendJSON(w, EndSessionResponse{Success: true, Message: "Session ended"})
}
