// Package metrics exposes relay counters and timers for Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	namespace string
	system    string
	registry  *prometheus.Registry

	chatRequests     *prometheus.CounterVec
	upstreamTime     *prometheus.HistogramVec
	relayedBytes     *prometheus.CounterVec
	conversationLogs *prometheus.CounterVec
	droppedTasks     *prometheus.CounterVec
	sweptRecords     *prometheus.CounterVec
}

// New creates Metrics registered on a fresh registry
func New(ns, system string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{namespace: ns, system: system, registry: registry}
	m.chatRequests = m.newCounterVec("chat_requests", []string{"status"})
	m.upstreamTime = m.newHistogramVec("upstream_request_time", []string{"outcome"})
	m.relayedBytes = m.newCounterVec("relayed_bytes", nil)
	m.conversationLogs = m.newCounterVec("conversation_log", []string{"kind", "result"})
	m.droppedTasks = m.newCounterVec("background_dropped", []string{"task"})
	m.sweptRecords = m.newCounterVec("ratelimit_swept", nil)
	return m
}

func (m *Metrics) newCounterVec(name string, labels []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: FmtFixer(m.namespace),
			Subsystem: FmtFixer(m.system),
			Name:      FmtFixer(name) + "_total",
			Help:      fmt.Sprintf("%s count of /%s/%s", name, m.namespace, m.system),
		},
		labels,
	)
	m.registry.MustRegister(vec)
	return vec
}

func (m *Metrics) newHistogramVec(name string, labels []string) *prometheus.HistogramVec {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: FmtFixer(m.namespace),
			Subsystem: FmtFixer(m.system),
			Name:      FmtFixer(name) + "_seconds",
			Help:      fmt.Sprintf("%s duration of /%s/%s", name, m.namespace, m.system),
			Buckets:   prometheus.DefBuckets,
		},
		labels,
	)
	m.registry.MustRegister(vec)
	return vec
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		m.registry, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}),
	)
}

// ChatRequestInc counts a finished chat request by response status
func (m *Metrics) ChatRequestInc(status int) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// UpstreamTimer times the upstream call until the stream opens or fails
func (m *Metrics) UpstreamTimer() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	return func(outcome string) {
		m.upstreamTime.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// RelayedBytesAdd counts bytes copied from upstream to clients
func (m *Metrics) RelayedBytesAdd(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.relayedBytes.WithLabelValues().Add(float64(n))
}

// ConversationLogInc counts a persistence attempt
func (m *Metrics) ConversationLogInc(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.conversationLogs.WithLabelValues(kind, result).Inc()
}

// DroppedTaskInc counts a background task dropped by a full queue
func (m *Metrics) DroppedTaskInc(task string) {
	if m == nil {
		return
	}
	m.droppedTasks.WithLabelValues(task).Inc()
}

// SweptRecordsAdd counts expired rate limit records removed by a sweep
func (m *Metrics) SweptRecordsAdd(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptRecords.WithLabelValues().Add(float64(n))
}

func FmtFixer(in string) string {
	return strings.Replace(strings.Replace(in, ".", "_", -1), "-", "_", -1)
}
