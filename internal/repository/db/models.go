package db

import (
	"encoding/json"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session represents a visitor chat session in the database
type Session struct {
	ID             string
	SessionID      string
	StartedAt      time.Time
	LastActivityAt time.Time
	EndedAt        *time.Time
	MessageCount   int
	IPHash         string
	UserAgent      string
	Metadata       json.RawMessage
}

// SessionUpsert carries the fields written when a session is created or touched
type SessionUpsert struct {
	SessionID string
	IPHash    string
	UserAgent string
	Metadata  json.RawMessage
}

// Message represents a message in a session
type Message struct {
	ID               string
	SessionID        string // row id of the owning session
	Role             string
	Content          string
	OpenAIResponseID *string
	TokensUsed       *int
	Metadata         json.RawMessage
	CreatedAt        time.Time
}
