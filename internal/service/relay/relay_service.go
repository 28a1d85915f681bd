package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"portfolio-chat/internal/background"
	"portfolio-chat/internal/knowledge"
	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/metrics"
	"portfolio-chat/internal/ratelimit"
	"portfolio-chat/internal/repository/db"
	"portfolio-chat/internal/service/conversation"
	"portfolio-chat/internal/service/llm"
	"portfolio-chat/pkg/validation"

	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds the inbound JSON body; valid messages are far smaller
const maxBodyBytes = 64 * 1024

// ChatRequest is the inbound JSON body
type ChatRequest struct {
	Message            string `json:"message"`
	PreviousResponseID string `json:"previousResponseId,omitempty"`
	SessionID          string `json:"sessionId,omitempty"`
}

// Inbound is everything an adapter hands to the core for one request
type Inbound struct {
	ClientIP  string
	UserAgent string
	Body      io.Reader
}

// RelayService is the transport-independent core of the chat endpoint
type RelayService struct {
	limiter       *ratelimit.Limiter
	validator     *validation.ChatRequestValidator
	knowledge     *knowledge.Provider
	provider      llm.Provider
	conversations *conversation.ConversationService
	transcoder    *Transcoder
	metrics       *metrics.Metrics
	now           func() time.Time
}

// NewRelayService creates a new RelayService. conversations may be nil or
// disabled, in which case nothing is persisted.
func NewRelayService(
	limiter *ratelimit.Limiter,
	knowledgeProvider *knowledge.Provider,
	provider llm.Provider,
	conversations *conversation.ConversationService,
	m *metrics.Metrics,
) *RelayService {
	return &RelayService{
		limiter:       limiter,
		validator:     validation.NewChatRequestValidator(),
		knowledge:     knowledgeProvider,
		provider:      provider,
		conversations: conversations,
		transcoder:    NewTranscoder(m),
		metrics:       m,
		now:           time.Now,
	}
}

// HandleChatRequest admits, validates and opens the upstream stream for one
// visitor message. On success the caller must either Relay or Close the
// returned stream. Detached persistence work is scheduled on tasks.
func (s *RelayService) HandleChatRequest(ctx context.Context, in Inbound, tasks background.Dispatcher) (*Stream, error) {
	if !s.limiter.Allow(ctx, in.ClientIP) {
		logger.Log.WithField("client", in.ClientIP).Info("Rate limit exceeded")
		return nil, ErrRateLimited
	}

	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(in.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.Log.WithError(err).Debug("Invalid request body")
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := s.validator.ValidateMessage(req.Message); err != nil {
		logger.Log.WithError(err).WithField("message_length", len(req.Message)).Debug("Message rejected")
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "session_" + strconv.FormatInt(s.now().UnixMilli(), 10)
	}

	sessionRow := s.logUserMessage(ctx, tasks, sessionID, in, req.Message)

	done := s.metrics.UpstreamTimer()
	body, err := s.provider.StreamResponse(ctx, llm.StreamRequest{
		Message:            req.Message,
		Instructions:       s.knowledge.SystemPrompt(),
		PreviousResponseID: req.PreviousResponseID,
	})
	if err != nil {
		done("error")
		var upstreamErr *llm.UpstreamError
		if !errors.As(err, &upstreamErr) {
			logger.Log.WithError(err).Error("Upstream request failed")
		}
		return nil, fmt.Errorf("failed to open upstream stream: %w", err)
	}
	done("ok")

	return &Stream{
		body:       body,
		service:    s,
		tasks:      tasks,
		ctx:        ctx,
		sessionID:  sessionID,
		sessionRow: sessionRow,
	}, nil
}

// logUserMessage schedules the session upsert and user message log. The
// returned future resolves to the session row id, or "" when nothing was written.
func (s *RelayService) logUserMessage(ctx context.Context, tasks background.Dispatcher, sessionID string, in Inbound, message string) *rowFuture {
	future := newRowFuture()
	if !s.conversations.Enabled() || tasks == nil {
		future.resolve("")
		return future
	}

	userAgent := in.UserAgent
	if userAgent == "" {
		userAgent = "unknown"
	}

	accepted := tasks.Go(ctx, "log-user-message", func(taskCtx context.Context) {
		var rowID string
		// The assistant task waits until the user message is written
		defer func() { future.resolve(rowID) }()

		rowID = s.conversations.UpsertSession(taskCtx, conversation.SessionInput{
			SessionID: sessionID,
			ClientIP:  in.ClientIP,
			UserAgent: userAgent,
		})
		if rowID == "" {
			return
		}
		s.conversations.LogMessage(taskCtx, conversation.MessageEntry{
			SessionRowID: rowID,
			Role:         db.RoleUser,
			Content:      message,
		})
	})
	if !accepted {
		future.resolve("")
	}
	return future
}

// Stream is an open upstream response waiting to be relayed
type Stream struct {
	body       io.ReadCloser
	service    *RelayService
	tasks      background.Dispatcher
	ctx        context.Context
	sessionID  string
	sessionRow *rowFuture
}

// SessionID returns the session identifier the request was attributed to
func (st *Stream) SessionID() string {
	return st.sessionID
}

// Relay copies the upstream stream to dst byte for byte, flushing after every
// chunk, then closes the upstream body. After a clean end with assistant
// content the message is logged on a detached task.
func (st *Stream) Relay(dst io.Writer, flush func()) (*Transcript, error) {
	defer st.body.Close()

	transcript, err := st.service.transcoder.Relay(st.body, dst, flush)
	if err != nil {
		logger.Log.WithError(err).WithField("session_id", st.sessionID).Warn("Stream relay aborted")
		return transcript, err
	}

	if transcript.Failure != "" {
		logger.Log.WithFields(logrus.Fields{
			"session_id": st.sessionID,
			"failure":    transcript.Failure,
		}).Warn("Upstream reported a failure mid-stream")
	}

	logger.Log.WithFields(logrus.Fields{
		"session_id":     st.sessionID,
		"response_id":    transcript.ResponseID,
		"content_length": len(transcript.Content()),
	}).Debug("Stream relayed")

	st.logAssistantMessage(transcript)
	return transcript, nil
}

// Close releases the upstream body without relaying it
func (st *Stream) Close() error {
	return st.body.Close()
}

func (st *Stream) logAssistantMessage(transcript *Transcript) {
	s := st.service
	content := transcript.Content()
	if content == "" || !s.conversations.Enabled() || st.tasks == nil {
		return
	}

	entry := conversation.MessageEntry{
		Role:       db.RoleAssistant,
		Content:    content,
		ResponseID: transcript.ResponseID,
		TokensUsed: transcript.TotalTokens,
		Metadata:   map[string]any{"model": s.provider.GetDefaultModel()},
	}
	future := st.sessionRow

	st.tasks.Go(st.ctx, "log-assistant-message", func(taskCtx context.Context) {
		rowID, ok := future.wait(taskCtx)
		if !ok || rowID == "" {
			return
		}
		entry.SessionRowID = rowID
		s.conversations.LogMessage(taskCtx, entry)
	})
}

// rowFuture hands the session row id from the upsert task to the assistant log task
type rowFuture struct {
	done chan struct{}
	id   string
}

func newRowFuture() *rowFuture {
	return &rowFuture{done: make(chan struct{})}
}

// resolve must be called exactly once
func (f *rowFuture) resolve(id string) {
	f.id = id
	close(f.done)
}

func (f *rowFuture) wait(ctx context.Context) (string, bool) {
	select {
	case <-f.done:
		return f.id, true
	case <-ctx.Done():
		return "", false
	}
}
