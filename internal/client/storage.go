package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Message is one entry of the chat transcript shown to the visitor
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Session is the state persisted between runs
type Session struct {
	SessionID       string    `json:"sessionId"`
	Messages        []Message `json:"messages"`
	MessageCount    int       `json:"messageCount"`
	LastMessageTime int64     `json:"lastMessageTime"`
	LastResponseID  string    `json:"lastResponseId,omitempty"`
}

// Storage persists a single Session
type Storage interface {
	// Load returns nil, nil when nothing has been saved
	Load() (*Session, error)
	Save(*Session) error
	Clear() error
}

// FileStorage keeps the session as a JSON document on disk
type FileStorage struct {
	path string
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates a FileStorage at path
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// DefaultPath is the session file under the user's config directory
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "portfolio-chat", "chatbot-session.json")
}

func (s *FileStorage) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("error parsing session: %w", err)
	}
	return &session, nil
}

func (s *FileStorage) Save(session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("error encoding session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("error creating session directory: %w", err)
	}

	// Rename keeps the previous file intact until the new one is complete
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("error writing session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("error writing session: %w", err)
	}
	return nil
}

func (s *FileStorage) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing session: %w", err)
	}
	return nil
}
