package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/repository/db"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var emptyMetadata = json.RawMessage(`{}`)

// UpsertSession creates the session row for in.SessionID or refreshes the
// existing one, and returns its row id
func (p *PostgresDB) UpsertSession(ctx context.Context, in db.SessionUpsert) (string, error) {
	conn := p.conn

	query := `
	INSERT INTO chat_sessions (session_id, ip_hash, user_agent, metadata)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (session_id) DO UPDATE
	SET ip_hash = EXCLUDED.ip_hash,
	    user_agent = EXCLUDED.user_agent,
	    metadata = EXCLUDED.metadata,
	    last_activity_at = NOW()
	RETURNING id
	`

	var id string
	err := conn.QueryRowContext(ctx, query,
		in.SessionID, nullString(in.IPHash), nullString(in.UserAgent), metadataOrEmpty(in.Metadata),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("error upserting session: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"session_id": in.SessionID, "row_id": id}).Debug("Upserted chat session")
	return id, nil
}

// EndSession marks a session as ended. Ending an already ended session keeps
// the original end time.
func (p *PostgresDB) EndSession(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return db.ErrNotFound
	}

	result, err := p.conn.ExecContext(ctx,
		`UPDATE chat_sessions SET ended_at = COALESCE(ended_at, NOW()) WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error ending session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error ending session: %w", err)
	}
	if rows == 0 {
		return db.ErrNotFound
	}

	logger.Log.WithField("row_id", id).Info("Ended chat session")
	return nil
}

// ListSessions returns the most recently active sessions first
func (p *PostgresDB) ListSessions(ctx context.Context, limit int) ([]db.Session, error) {
	query := `
	SELECT id, session_id, started_at, last_activity_at, ended_at, message_count,
	       COALESCE(ip_hash, ''), COALESCE(user_agent, ''), metadata
	FROM chat_sessions
	ORDER BY last_activity_at DESC
	LIMIT $1
	`

	rows, err := p.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := []db.Session{}
	for rows.Next() {
		var (
			s        db.Session
			endedAt  sql.NullTime
			metadata []byte
		)
		if err := rows.Scan(&s.ID, &s.SessionID, &s.StartedAt, &s.LastActivityAt, &endedAt,
			&s.MessageCount, &s.IPHash, &s.UserAgent, &metadata); err != nil {
			return nil, fmt.Errorf("error scanning session: %w", err)
		}
		if endedAt.Valid {
			s.EndedAt = &endedAt.Time
		}
		s.Metadata = json.RawMessage(metadata)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func metadataOrEmpty(m json.RawMessage) []byte {
	if len(m) == 0 {
		return emptyMetadata
	}
	return m
}
