package testutil

import (
	"context"
	"errors"
	"io"
	"strings"

	"portfolio-chat/internal/repository/db"
	"portfolio-chat/internal/service/llm"
)

var (
	_ db.Database  = (*MockDatabase)(nil)
	_ llm.Provider = (*MockProvider)(nil)
)

// MockDatabase is a mock implementation of db.Database for testing
type MockDatabase struct {
	// Session mocks
	UpsertSessionFunc func(ctx context.Context, in db.SessionUpsert) (string, error)
	EndSessionFunc    func(ctx context.Context, id string) error
	ListSessionsFunc  func(ctx context.Context, limit int) ([]db.Session, error)

	// Message mocks
	AddMessageFunc         func(ctx context.Context, msg db.Message) (*db.Message, error)
	GetSessionMessagesFunc func(ctx context.Context, sessionID string) ([]db.Message, error)
}

// Session methods
func (m *MockDatabase) UpsertSession(ctx context.Context, in db.SessionUpsert) (string, error) {
	if m.UpsertSessionFunc != nil {
		return m.UpsertSessionFunc(ctx, in)
	}
	return "", errors.New("not implemented")
}

func (m *MockDatabase) EndSession(ctx context.Context, id string) error {
	if m.EndSessionFunc != nil {
		return m.EndSessionFunc(ctx, id)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) ListSessions(ctx context.Context, limit int) ([]db.Session, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx, limit)
	}
	return nil, errors.New("not implemented")
}

// Message methods
func (m *MockDatabase) AddMessage(ctx context.Context, msg db.Message) (*db.Message, error) {
	if m.AddMessageFunc != nil {
		return m.AddMessageFunc(ctx, msg)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetSessionMessages(ctx context.Context, sessionID string) ([]db.Message, error) {
	if m.GetSessionMessagesFunc != nil {
		return m.GetSessionMessagesFunc(ctx, sessionID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) Close() error {
	return nil
}

// MockProvider is a mock implementation of llm.Provider for testing
type MockProvider struct {
	StreamResponseFunc func(ctx context.Context, req llm.StreamRequest) (io.ReadCloser, error)
	DefaultModel       string
}

func (m *MockProvider) StreamResponse(ctx context.Context, req llm.StreamRequest) (io.ReadCloser, error) {
	if m.StreamResponseFunc != nil {
		return m.StreamResponseFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *MockProvider) GetDefaultModel() string {
	if m.DefaultModel == "" {
		return "gpt-4o-mini"
	}
	return m.DefaultModel
}

// ChunkedBody replays chunks one Read at a time and records whether it was closed
type ChunkedBody struct {
	chunks []string
	// Err is returned once all chunks are consumed; io.EOF when nil
	Err    error
	Closed bool
}

// NewChunkedBody creates a body that yields chunks in order
func NewChunkedBody(chunks ...string) *ChunkedBody {
	return &ChunkedBody{chunks: append([]string(nil), chunks...)}
}

func (b *ChunkedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		if b.Err != nil {
			return 0, b.Err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *ChunkedBody) Close() error {
	b.Closed = true
	return nil
}

// StreamFromEvents joins event payloads into an event-stream body
func StreamFromEvents(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString("data: ")
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}
	return sb.String()
}
