package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("portfolio-chat", "relay")

	m.ChatRequestInc(http.StatusOK)
	m.ChatRequestInc(http.StatusOK)
	m.ChatRequestInc(http.StatusTooManyRequests)
	m.ConversationLogInc("assistant", true)
	m.ConversationLogInc("assistant", false)
	m.RelayedBytesAdd(128)
	m.RelayedBytesAdd(0)
	m.DroppedTaskInc("log-user-message")
	m.SweptRecordsAdd(3)
	m.UpstreamTimer()("ok")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.chatRequests.WithLabelValues("200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.chatRequests.WithLabelValues("429")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.conversationLogs.WithLabelValues("assistant", "error")))
	assert.Equal(t, float64(128), testutil.ToFloat64(m.relayedBytes.WithLabelValues()))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.sweptRecords.WithLabelValues()))
	assert.Equal(t, 1, testutil.CollectAndCount(m.upstreamTime))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ChatRequestInc(http.StatusOK)
		m.ConversationLogInc("user", true)
		m.RelayedBytesAdd(10)
		m.DroppedTaskInc("x")
		m.SweptRecordsAdd(1)
		m.UpstreamTimer()("error")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New("portfolio-chat", "relay")
	m.ChatRequestInc(http.StatusOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `portfolio_chat_relay_chat_requests_total{status="200"} 1`), body)
}

func TestFmtFixer(t *testing.T) {
	assert.Equal(t, "portfolio_chat_v1_0", FmtFixer("portfolio-chat.v1-0"))
}
