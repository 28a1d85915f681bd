package db

import (
	"context"
	"errors"
)

// Database defines the interface for all conversation store operations.
// This allows for easier testing through mocking and decouples the services from the specific database implementation
type Database interface {
	// Sessions
	UpsertSession(ctx context.Context, in SessionUpsert) (string, error)
	EndSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, limit int) ([]Session, error)

	// Messages
	AddMessage(ctx context.Context, msg Message) (*Message, error)
	GetSessionMessages(ctx context.Context, sessionID string) ([]Message, error)

	Close() error
}

// ErrNotFound is returned when a referenced row does not exist
var ErrNotFound = errors.New("not found")
