package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"portfolio-chat/internal/app"
	"portfolio-chat/internal/auth"
	"portfolio-chat/internal/background"
	"portfolio-chat/internal/config"
	"portfolio-chat/internal/knowledge"
	"portfolio-chat/internal/metrics"
	"portfolio-chat/internal/ratelimit"
	"portfolio-chat/internal/repository/db"
	"portfolio-chat/internal/service/llm"
	"portfolio-chat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var helloStream = testutil.StreamFromEvents(
	`{"type":"response.created","response":{"id":"resp_1"}}`,
	`{"type":"response.output_text.delta","delta":"Hello"}`,
	`{"type":"response.completed","response":{"id":"resp_1"}}`,
)

type testServer struct {
	cfg      *app.Config
	handler  http.Handler
	tasks    *background.Group
	requests []llm.StreamRequest
}

func newTestServer(t *testing.T, database db.Database, maxRequests int, streamErr error) *testServer {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	appConfig := &config.AppConfig{
		Server: config.ServerConfig{
			AllowedOrigin:    "https://portfolio.example",
			ClientIPHeader:   "CF-Connecting-IP",
			SendDoneSentinel: true,
		},
		Admin: config.AdminConfig{
			Username:        "admin",
			PasswordHash:    string(hash),
			JWTSecret:       []byte(strings.Repeat("k", 32)),
			TokenExpiration: time.Hour,
		},
	}

	ts := &testServer{tasks: background.NewGroup(time.Second)}
	provider := &testutil.MockProvider{
		DefaultModel: "gpt-4o-mini",
		StreamResponseFunc: func(ctx context.Context, req llm.StreamRequest) (io.ReadCloser, error) {
			ts.requests = append(ts.requests, req)
			if streamErr != nil {
				return nil, streamErr
			}
			return testutil.NewChunkedBody(helloStream), nil
		},
	}

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), time.Hour, maxRequests)
	ts.cfg = app.NewConfig(database, appConfig, limiter, knowledge.MustDefault(), provider, metrics.New("test", "handlers"), ts.tasks)
	ts.handler = NewRouter(ts.cfg, auth.NewAuthenticator(appConfig.Admin))
	return ts
}

func (ts *testServer) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestChatStreamHandler_Success(t *testing.T) {
	ts := newTestServer(t, nil, 20, nil)

	rec := ts.do(http.MethodPost, "/api/chat", `{"message":"What do you build?","previousResponseId":"resp_0"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "https://portfolio.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, helloStream+"data: [DONE]\n\n", rec.Body.String())

	require.Len(t, ts.requests, 1)
	assert.Equal(t, "resp_0", ts.requests[0].PreviousResponseID)
}

func TestChatStreamHandler_NoSentinelWhenDisabled(t *testing.T) {
	ts := newTestServer(t, nil, 20, nil)
	ts.cfg.AppConfig.Server.SendDoneSentinel = false

	rec := ts.do(http.MethodPost, "/api/chat", `{"message":"Hello there"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, helloStream, rec.Body.String())
}

func TestChatStreamHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		streamErr  error
		maxReqs    int
		wantStatus int
		wantError  string
	}{
		{"wrong method", http.MethodGet, "", nil, 20, http.StatusMethodNotAllowed, "Method not allowed"},
		{"malformed body", http.MethodPost, `{"message":`, nil, 20, http.StatusBadRequest, "Invalid message"},
		{"too short", http.MethodPost, `{"message":"hi"}`, nil, 20, http.StatusBadRequest, "Invalid message"},
		{"url", http.MethodPost, `{"message":"see https://spam.example"}`, nil, 20, http.StatusBadRequest, "Invalid message"},
		{"upstream failure", http.MethodPost, `{"message":"Hello there"}`, &llm.UpstreamError{StatusCode: 500, Body: "boom"}, 20, http.StatusInternalServerError, "Failed to process request"},
		{"transport failure", http.MethodPost, `{"message":"Hello there"}`, errors.New("dial tcp: refused"), 20, http.StatusInternalServerError, "Failed to process request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil, tt.maxReqs, tt.streamErr)
			rec := ts.do(tt.method, "/api/chat", tt.body, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantError, errorBody(t, rec))
		})
	}
}

func TestChatStreamHandler_RateLimitPerClient(t *testing.T) {
	ts := newTestServer(t, nil, 2, nil)
	alice := map[string]string{"CF-Connecting-IP": "203.0.113.1"}
	bob := map[string]string{"CF-Connecting-IP": "203.0.113.2"}

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/chat", `{"message":"Hello there"}`, alice).Code)
	}

	rec := ts.do(http.MethodPost, "/api/chat", `{"message":"Hello there"}`, alice)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Rate limit exceeded", errorBody(t, rec))

	// Rate limiting happens before the body is read
	rec = ts.do(http.MethodPost, "/api/chat", `{`, alice)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/chat", `{"message":"Hello there"}`, bob).Code)
	assert.Len(t, ts.requests, 3)
}

func TestChatStreamHandler_Preflight(t *testing.T) {
	ts := newTestServer(t, nil, 20, nil)

	rec := ts.do(http.MethodOptions, "/api/chat", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "https://portfolio.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Empty(t, ts.requests)
}

func TestChatStreamHandler_LogsConversation(t *testing.T) {
	var (
		mu    sync.Mutex
		roles []string
	)
	database := &testutil.MockDatabase{
		UpsertSessionFunc: func(ctx context.Context, in db.SessionUpsert) (string, error) {
			assert.Equal(t, "session_abc", in.SessionID)
			assert.NotEqual(t, "198.51.100.7", in.IPHash)
			return "row-1", nil
		},
		AddMessageFunc: func(ctx context.Context, msg db.Message) (*db.Message, error) {
			assert.Equal(t, "row-1", msg.SessionID)
			mu.Lock()
			roles = append(roles, msg.Role)
			mu.Unlock()
			return &msg, nil
		},
	}
	ts := newTestServer(t, database, 20, nil)

	rec := ts.do(http.MethodPost, "/api/chat", `{"message":"Hello there","sessionId":"session_abc"}`,
		map[string]string{"CF-Connecting-IP": "198.51.100.7"})
	ts.tasks.Wait()

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{db.RoleUser, db.RoleAssistant}, roles)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil, 20, nil)

	rec := ts.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	ts.do(http.MethodPost, "/api/chat", `{"message":"Hello there"}`, nil)
	rec = ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_requests")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		value      string
		remoteAddr string
		want       string
	}{
		{"trusted header", "CF-Connecting-IP", "203.0.113.9", "10.0.0.1:1234", "203.0.113.9"},
		{"forwarded chain", "X-Forwarded-For", "203.0.113.9, 10.0.0.2", "10.0.0.1:1234", "203.0.113.9"},
		{"header absent", "CF-Connecting-IP", "", "10.0.0.1:1234", "10.0.0.1"},
		{"no header configured", "", "203.0.113.9", "10.0.0.1:1234", "10.0.0.1"},
		{"nothing known", "", "", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.value != "" {
				req.Header.Set("CF-Connecting-IP", tt.value)
				req.Header.Set("X-Forwarded-For", tt.value)
			}
			if got := ClientIP(req, tt.header); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func adminToken(t *testing.T, ts *testServer) string {
	t.Helper()
	rec := ts.do(http.MethodPost, "/api/admin/login", `{"username":"admin","password":"secret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp auth.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Token
}

func TestAdminRoutes_NotMountedWithoutStore(t *testing.T) {
	ts := newTestServer(t, nil, 20, nil)

	rec := ts.do(http.MethodPost, "/api/admin/login", `{"username":"admin","password":"secret"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var endedID string
	database := &testutil.MockDatabase{
		ListSessionsFunc: func(ctx context.Context, limit int) ([]db.Session, error) {
			assert.Equal(t, 5, limit)
			return []db.Session{{ID: "row-1", SessionID: "session_1", StartedAt: started, LastActivityAt: started, MessageCount: 2}}, nil
		},
		GetSessionMessagesFunc: func(ctx context.Context, id string) ([]db.Message, error) {
			if id != "row-1" {
				return nil, db.ErrNotFound
			}
			return []db.Message{
				{ID: "m1", Role: db.RoleUser, Content: "Hello there", CreatedAt: started},
				{ID: "m2", Role: db.RoleAssistant, Content: "Hi!", CreatedAt: started},
			}, nil
		},
		EndSessionFunc: func(ctx context.Context, id string) error {
			if id != "row-1" {
				return db.ErrNotFound
			}
			endedID = id
			return nil
		},
	}
	ts := newTestServer(t, database, 20, nil)

	rec := ts.do(http.MethodGet, "/api/admin/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bearer := map[string]string{"Authorization": "Bearer " + adminToken(t, ts)}

	rec = ts.do(http.MethodGet, "/api/admin/sessions?limit=5", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions SessionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, "session_1", sessions.Sessions[0].SessionID)
	assert.Nil(t, sessions.Sessions[0].EndedAt)

	rec = ts.do(http.MethodGet, "/api/admin/sessions?limit=zero", "", bearer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/admin/sessions/row-1/messages", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	var messages MessagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&messages))
	require.Len(t, messages.Messages, 2)
	assert.Equal(t, db.RoleAssistant, messages.Messages[1].Role)

	rec = ts.do(http.MethodGet, "/api/admin/sessions/missing/messages", "", bearer)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/admin/sessions/row-1/end", "", bearer)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "row-1", endedID)

	rec = ts.do(http.MethodPost, "/api/admin/sessions/missing/end", "", bearer)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodOptions, "/api/admin/sessions", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
