package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"portfolio-chat/internal/repository/db"
	"portfolio-chat/internal/testutil"
)

func TestHashIP(t *testing.T) {
	// sha256("127.0.0.1")
	want := "12ca17b49af2289436f303e0166030a21e525d266e209267433801a8fd4071a0"
	if got := HashIP("127.0.0.1"); got != want {
		t.Errorf("HashIP() = %q, want %q", got, want)
	}
	if HashIP("10.0.0.1") == HashIP("10.0.0.2") {
		t.Error("different addresses must hash differently")
	}
}

func TestDisabledService(t *testing.T) {
	service := NewConversationService(nil, nil)
	ctx := context.Background()

	if service.Enabled() {
		t.Fatal("service without a database must be disabled")
	}
	if id := service.UpsertSession(ctx, SessionInput{SessionID: "session_1"}); id != "" {
		t.Errorf("UpsertSession() = %q, want empty", id)
	}
	if service.LogMessage(ctx, MessageEntry{SessionRowID: "row", Role: db.RoleUser, Content: "hi"}) {
		t.Error("LogMessage() must report false when disabled")
	}
	if _, err := service.ListSessions(ctx, 10); !errors.Is(err, ErrDisabled) {
		t.Errorf("ListSessions() error = %v, want ErrDisabled", err)
	}
	if _, err := service.GetHistory(ctx, "row"); !errors.Is(err, ErrDisabled) {
		t.Errorf("GetHistory() error = %v, want ErrDisabled", err)
	}
	if err := service.EndSession(ctx, "row"); !errors.Is(err, ErrDisabled) {
		t.Errorf("EndSession() error = %v, want ErrDisabled", err)
	}

	var nilService *ConversationService
	if nilService.Enabled() {
		t.Error("nil service must be disabled")
	}
}

func TestUpsertSession(t *testing.T) {
	var got db.SessionUpsert
	mockDB := &testutil.MockDatabase{
		UpsertSessionFunc: func(ctx context.Context, in db.SessionUpsert) (string, error) {
			got = in
			return "row-1", nil
		},
	}
	service := NewConversationService(mockDB, nil)

	id := service.UpsertSession(context.Background(), SessionInput{
		SessionID: "session_1",
		ClientIP:  "127.0.0.1",
		UserAgent: "Mozilla/5.0",
		Metadata:  map[string]any{"source": "portfolio"},
	})

	if id != "row-1" {
		t.Errorf("UpsertSession() = %q, want row-1", id)
	}
	if got.SessionID != "session_1" {
		t.Errorf("SessionID = %q", got.SessionID)
	}
	if got.IPHash != HashIP("127.0.0.1") {
		t.Errorf("IPHash = %q, want hashed client address", got.IPHash)
	}
	if got.UserAgent != "Mozilla/5.0" {
		t.Errorf("UserAgent = %q", got.UserAgent)
	}
	var meta map[string]any
	if err := json.Unmarshal(got.Metadata, &meta); err != nil || meta["source"] != "portfolio" {
		t.Errorf("Metadata = %s, err = %v", got.Metadata, err)
	}
}

func TestUpsertSession_NoClientIP(t *testing.T) {
	var got db.SessionUpsert
	mockDB := &testutil.MockDatabase{
		UpsertSessionFunc: func(ctx context.Context, in db.SessionUpsert) (string, error) {
			got = in
			return "row-1", nil
		},
	}

	NewConversationService(mockDB, nil).UpsertSession(context.Background(), SessionInput{SessionID: "s"})
	if got.IPHash != "" {
		t.Errorf("IPHash = %q, want empty when no address is known", got.IPHash)
	}
	if got.Metadata != nil {
		t.Errorf("Metadata = %s, want nil", got.Metadata)
	}
}

func TestUpsertSession_ErrorIsSwallowed(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		UpsertSessionFunc: func(ctx context.Context, in db.SessionUpsert) (string, error) {
			return "", errors.New("connection refused")
		},
	}

	if id := NewConversationService(mockDB, nil).UpsertSession(context.Background(), SessionInput{SessionID: "s"}); id != "" {
		t.Errorf("UpsertSession() = %q, want empty on failure", id)
	}
}

func TestLogMessage(t *testing.T) {
	tokens := 42

	tests := []struct {
		name      string
		entry     MessageEntry
		dbErr     error
		want      bool
		wantCall  bool
		checkCall func(t *testing.T, msg db.Message)
	}{
		{
			name:     "user message",
			entry:    MessageEntry{SessionRowID: "row-1", Role: db.RoleUser, Content: "Hi there"},
			want:     true,
			wantCall: true,
			checkCall: func(t *testing.T, msg db.Message) {
				if msg.OpenAIResponseID != nil || msg.TokensUsed != nil {
					t.Error("user message must not carry upstream details")
				}
			},
		},
		{
			name: "assistant message with usage",
			entry: MessageEntry{
				SessionRowID: "row-1", Role: db.RoleAssistant, Content: "Hello",
				ResponseID: "resp_1", TokensUsed: &tokens,
			},
			want:     true,
			wantCall: true,
			checkCall: func(t *testing.T, msg db.Message) {
				if msg.OpenAIResponseID == nil || *msg.OpenAIResponseID != "resp_1" {
					t.Errorf("OpenAIResponseID = %v", msg.OpenAIResponseID)
				}
				if msg.TokensUsed == nil || *msg.TokensUsed != 42 {
					t.Errorf("TokensUsed = %v", msg.TokensUsed)
				}
			},
		},
		{
			name:     "store failure reports false",
			entry:    MessageEntry{SessionRowID: "row-1", Role: db.RoleUser, Content: "Hi"},
			dbErr:    errors.New("insert failed"),
			want:     false,
			wantCall: true,
		},
		{
			name:     "missing session row is skipped",
			entry:    MessageEntry{Role: db.RoleAssistant, Content: "Hello"},
			want:     false,
			wantCall: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mockDB := &testutil.MockDatabase{
				AddMessageFunc: func(ctx context.Context, msg db.Message) (*db.Message, error) {
					called = true
					if tt.checkCall != nil {
						tt.checkCall(t, msg)
					}
					if msg.SessionID != tt.entry.SessionRowID || msg.Role != tt.entry.Role || msg.Content != tt.entry.Content {
						t.Errorf("unexpected message %+v", msg)
					}
					if tt.dbErr != nil {
						return nil, tt.dbErr
					}
					return &msg, nil
				},
			}

			got := NewConversationService(mockDB, nil).LogMessage(context.Background(), tt.entry)
			if got != tt.want {
				t.Errorf("LogMessage() = %v, want %v", got, tt.want)
			}
			if called != tt.wantCall {
				t.Errorf("database called = %v, want %v", called, tt.wantCall)
			}
		})
	}
}

func TestReadOperations(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		ListSessionsFunc: func(ctx context.Context, limit int) ([]db.Session, error) {
			if limit != 25 {
				t.Errorf("limit = %d, want 25", limit)
			}
			return []db.Session{{ID: "row-1", SessionID: "session_1"}}, nil
		},
		GetSessionMessagesFunc: func(ctx context.Context, id string) ([]db.Message, error) {
			if id == "missing" {
				return nil, db.ErrNotFound
			}
			return []db.Message{{ID: "m1", Role: db.RoleUser}, {ID: "m2", Role: db.RoleAssistant}}, nil
		},
		EndSessionFunc: func(ctx context.Context, id string) error {
			if id == "missing" {
				return db.ErrNotFound
			}
			return nil
		},
	}
	service := NewConversationService(mockDB, nil)
	ctx := context.Background()

	sessions, err := service.ListSessions(ctx, 25)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("ListSessions() = %v, %v", sessions, err)
	}

	history, err := service.GetHistory(ctx, "row-1")
	if err != nil || len(history) != 2 {
		t.Fatalf("GetHistory() = %v, %v", history, err)
	}

	if _, err := service.GetHistory(ctx, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("GetHistory() error = %v, want wrapped ErrNotFound", err)
	}
	if err := service.EndSession(ctx, "row-1"); err != nil {
		t.Errorf("EndSession() error = %v", err)
	}
	if err := service.EndSession(ctx, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("EndSession() error = %v, want wrapped ErrNotFound", err)
	}
}
