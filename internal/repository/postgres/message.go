package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/repository/db"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AddMessage inserts a message and bumps the owning session's counters in one transaction
func (p *PostgresDB) AddMessage(ctx context.Context, msg db.Message) (*db.Message, error) {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	msgID := uuid.New().String()
	var createdAt time.Time

	insert := `
	INSERT INTO messages (id, session_id, role, content, openai_response_id, tokens_used, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, created_at
	`

	var responseID sql.NullString
	if msg.OpenAIResponseID != nil {
		responseID = sql.NullString{String: *msg.OpenAIResponseID, Valid: true}
	}
	var tokens sql.NullInt64
	if msg.TokensUsed != nil {
		tokens = sql.NullInt64{Int64: int64(*msg.TokensUsed), Valid: true}
	}

	err = tx.QueryRowContext(ctx, insert,
		msgID, msg.SessionID, msg.Role, msg.Content, responseID, tokens, metadataOrEmpty(msg.Metadata),
	).Scan(&msgID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("error adding message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE chat_sessions SET message_count = message_count + 1, last_activity_at = NOW() WHERE id = $1`,
		msg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("error updating session activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing message: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"message_id": msgID,
		"session_id": msg.SessionID,
		"role":       msg.Role,
	}).Debug("Added message")

	msg.ID = msgID
	msg.CreatedAt = createdAt
	return &msg, nil
}

// GetSessionMessages retrieves all messages of a session, oldest first
func (p *PostgresDB) GetSessionMessages(ctx context.Context, sessionID string) ([]db.Message, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, db.ErrNotFound
	}

	query := `
	SELECT id, session_id, role, content, openai_response_id, tokens_used, metadata, created_at
	FROM messages
	WHERE session_id = $1
	ORDER BY created_at ASC
	`

	rows, err := p.conn.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	messages := []db.Message{}
	for rows.Next() {
		var (
			m          db.Message
			responseID sql.NullString
			tokens     sql.NullInt64
			metadata   []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &responseID, &tokens, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		if responseID.Valid {
			m.OpenAIResponseID = &responseID.String
		}
		if tokens.Valid {
			n := int(tokens.Int64)
			m.TokensUsed = &n
		}
		m.Metadata = json.RawMessage(metadata)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}
