package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/metrics"
	"portfolio-chat/internal/repository/db"

	"github.com/sirupsen/logrus"
)

// ErrDisabled is returned by read operations when no store is configured
var ErrDisabled = errors.New("conversation store not configured")

// SessionInput describes the session a visitor message belongs to
type SessionInput struct {
	SessionID string
	ClientIP  string
	UserAgent string
	Metadata  map[string]any
}

// MessageEntry is one message to persist
type MessageEntry struct {
	SessionRowID string
	Role         string
	Content      string
	ResponseID   string
	TokensUsed   *int
	Metadata     map[string]any
}

// ConversationService records visitor sessions and messages on a best-effort
// basis. Write failures are logged and never returned.
type ConversationService struct {
	db      db.Database
	metrics *metrics.Metrics
}

// NewConversationService creates a new ConversationService. A nil database
// disables logging.
func NewConversationService(database db.Database, m *metrics.Metrics) *ConversationService {
	return &ConversationService{
		db:      database,
		metrics: m,
	}
}

// Enabled reports whether a store is configured
func (s *ConversationService) Enabled() bool {
	return s != nil && s.db != nil
}

// UpsertSession creates or refreshes the session row and returns its id, or
// "" when the store is disabled or the write failed
func (s *ConversationService) UpsertSession(ctx context.Context, in SessionInput) string {
	if !s.Enabled() {
		return ""
	}

	upsert := db.SessionUpsert{
		SessionID: in.SessionID,
		UserAgent: in.UserAgent,
		Metadata:  encodeMetadata(in.Metadata),
	}
	if in.ClientIP != "" {
		upsert.IPHash = HashIP(in.ClientIP)
	}

	id, err := s.db.UpsertSession(ctx, upsert)
	s.metrics.ConversationLogInc("session", err == nil)
	if err != nil {
		logger.Log.WithError(err).WithField("session_id", in.SessionID).Error("Error upserting session")
		return ""
	}
	return id
}

// LogMessage persists one message and reports whether it was written
func (s *ConversationService) LogMessage(ctx context.Context, entry MessageEntry) bool {
	if !s.Enabled() {
		return false
	}
	if entry.SessionRowID == "" {
		logger.Log.WithField("role", entry.Role).Debug("Skipping message log without a session row")
		return false
	}

	msg := db.Message{
		SessionID:  entry.SessionRowID,
		Role:       entry.Role,
		Content:    entry.Content,
		TokensUsed: entry.TokensUsed,
		Metadata:   encodeMetadata(entry.Metadata),
	}
	if entry.ResponseID != "" {
		msg.OpenAIResponseID = &entry.ResponseID
	}

	_, err := s.db.AddMessage(ctx, msg)
	s.metrics.ConversationLogInc(entry.Role, err == nil)
	if err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"session_row_id": entry.SessionRowID,
			"role":           entry.Role,
		}).Error("Error logging message")
		return false
	}
	return true
}

// EndSession marks the session with row id as ended
func (s *ConversationService) EndSession(ctx context.Context, id string) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if err := s.db.EndSession(ctx, id); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// ListSessions returns up to limit sessions, most recently active first
func (s *ConversationService) ListSessions(ctx context.Context, limit int) ([]db.Session, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	sessions, err := s.db.ListSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve sessions: %w", err)
	}
	return sessions, nil
}

// GetHistory returns the messages of the session with row id, oldest first
func (s *ConversationService) GetHistory(ctx context.Context, id string) ([]db.Message, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	messages, err := s.db.GetSessionMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve messages: %w", err)
	}
	return messages, nil
}

// HashIP returns the lowercase hex SHA-256 of ip
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func encodeMetadata(m map[string]any) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		logger.Log.WithError(err).Warn("Dropping unencodable metadata")
		return nil
	}
	return data
}
