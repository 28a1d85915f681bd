// Package client is the visitor-side session manager: it keeps the transcript,
// the continuation token and the message quota across runs, and renders the
// relayed event stream as it arrives.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"portfolio-chat/internal/knowledge"
	"portfolio-chat/internal/logger"
	"portfolio-chat/pkg/eventstream"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// DefaultMaxMessages is the per-session question quota
	DefaultMaxMessages = 10
)

var sessionCharset = append(append([]rune{}, lo.LowerCaseLettersCharset...), lo.NumbersCharset...)

type chatRequest struct {
	Message            string `json:"message"`
	PreviousResponseID string `json:"previousResponseId,omitempty"`
	SessionID          string `json:"sessionId"`
}

// Config configures a Manager
type Config struct {
	// Endpoint is the full URL of the chat endpoint
	Endpoint    string
	MaxMessages int
	HTTPClient  *http.Client
}

// Manager owns one visitor session
type Manager struct {
	config  Config
	storage Storage
	profile knowledge.Profile
	now     func() time.Time

	mu      sync.Mutex
	session *Session
}

// NewManager creates a Manager. Call Load before use.
func NewManager(cfg Config, storage Storage, profile knowledge.Profile) *Manager {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Manager{config: cfg, storage: storage, profile: profile, now: time.Now}
}

// NewSessionID returns session_<unix-millis>_<random base36>
func NewSessionID(now time.Time) string {
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + lo.RandomString(7, sessionCharset)
}

// Load restores the saved session or starts a fresh one with the welcome message
func (m *Manager) Load() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.storage.Load()
	if err != nil {
		logger.Log.WithError(err).Warn("Failed to load chat session")
	}
	if stored != nil {
		if stored.SessionID == "" {
			stored.SessionID = NewSessionID(m.now())
		}
		m.session = stored
		return m.snapshot()
	}

	m.session = m.freshSession()
	m.save()
	return m.snapshot()
}

// Session returns a copy of the current state
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Remaining is the number of questions left in the quota
func (m *Manager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return max(m.config.MaxMessages-m.session.MessageCount, 0)
}

// Send submits text and returns the assistant message it produced, or nil
// when text is blank. onDelta, when set, receives text as it streams in.
// Failures are reported to the visitor as the fallback message.
func (m *Manager) Send(ctx context.Context, text string, onDelta func(string)) *Message {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m.mu.Lock()
	if m.session.MessageCount >= m.config.MaxMessages {
		msg := m.appendMessage(RoleAssistant, m.profile.LimitMessage)
		m.save()
		m.mu.Unlock()
		return &msg
	}

	m.appendMessage(RoleUser, text)
	m.session.MessageCount++
	m.save()
	req := chatRequest{
		Message:            text,
		PreviousResponseID: m.session.LastResponseID,
		SessionID:          m.session.SessionID,
	}
	m.mu.Unlock()

	var placeholderID string
	open := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		placeholderID = m.appendMessage(RoleAssistant, "").ID
		m.save()
	}
	delta := func(text string) {
		m.mu.Lock()
		if msg := m.find(placeholderID); msg != nil {
			msg.Content += text
		}
		m.mu.Unlock()
		if onDelta != nil {
			onDelta(text)
		}
	}

	responseID, err := m.stream(ctx, req, open, delta)

	m.mu.Lock()
	defer m.mu.Unlock()

	// A completed stream without text still advances the upstream chain
	if err == nil && responseID != "" {
		m.session.LastResponseID = responseID
	}

	placeholder := m.find(placeholderID)
	if err == nil && (placeholder == nil || placeholder.Content == "") {
		err = errors.New("stream carried no text")
	}
	if err != nil {
		logger.Log.WithError(err).Warn("Chat request failed")
		if placeholder != nil && placeholder.Content == "" {
			m.remove(placeholderID)
		}
		msg := m.appendMessage(RoleAssistant, m.profile.FallbackMessage)
		m.save()
		return &msg
	}

	m.save()

	msg := *placeholder
	return &msg
}

// Reset discards the stored session and starts over
func (m *Manager) Reset() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.Clear(); err != nil {
		logger.Log.WithError(err).Warn("Failed to clear chat session")
	}
	m.session = m.freshSession()
	m.save()
	return m.snapshot()
}

// stream posts req and decodes the relayed stream. open is called once the
// endpoint accepts the request, before the first delta.
func (m *Manager) stream(ctx context.Context, req chatRequest, open func(), onDelta func(string)) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("error encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.config.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat endpoint returned status %d", resp.StatusCode)
	}
	open()

	var responseID string
	decoder := eventstream.NewDecoder(eventstream.Handlers{
		OnCreated: func(id string) {
			if responseID == "" {
				responseID = id
			}
		},
		OnCompleted: func(id string, _ *int) {
			if id != "" {
				responseID = id
			}
		},
		OnDelta: onDelta,
		OnFailed: func(message string) {
			logger.Log.WithField("failure", message).Debug("Upstream reported a failure")
		},
	})

	if _, err := io.Copy(decoder, resp.Body); err != nil {
		return "", fmt.Errorf("error reading stream: %w", err)
	}
	decoder.Close()

	return responseID, nil
}

func (m *Manager) freshSession() *Session {
	now := m.now()
	return &Session{
		SessionID: NewSessionID(now),
		Messages: []Message{{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   m.profile.Welcome,
			Timestamp: now.UnixMilli(),
		}},
		LastMessageTime: now.UnixMilli(),
	}
}

// appendMessage must be called with mu held
func (m *Manager) appendMessage(role, content string) Message {
	now := m.now().UnixMilli()
	msg := Message{ID: uuid.NewString(), Role: role, Content: content, Timestamp: now}
	m.session.Messages = append(m.session.Messages, msg)
	m.session.LastMessageTime = now
	return msg
}

// find must be called with mu held
func (m *Manager) find(id string) *Message {
	if id == "" {
		return nil
	}
	for i := range m.session.Messages {
		if m.session.Messages[i].ID == id {
			return &m.session.Messages[i]
		}
	}
	return nil
}

// remove must be called with mu held
func (m *Manager) remove(id string) {
	m.session.Messages = lo.Reject(m.session.Messages, func(msg Message, _ int) bool {
		return msg.ID == id
	})
}

// save must be called with mu held
func (m *Manager) save() {
	if err := m.storage.Save(m.session); err != nil {
		logger.Log.WithError(err).Warn("Failed to save chat session")
	}
}

// snapshot must be called with mu held
func (m *Manager) snapshot() *Session {
	cp := *m.session
	cp.Messages = append([]Message(nil), m.session.Messages...)
	return &cp
}
