// Package metrics exposes prometheus counters for the call lifecycle and
// the signaling surface.
package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service registers
type Metrics struct {
	registry *prometheus.Registry

	CallsStarted  *prometheus.CounterVec
	CallsAnswered prometheus.Counter
	CallsDeclined prometheus.Counter
	CallsEnded    *prometheus.CounterVec
	CallDuration  prometheus.Histogram

	CandidatesStored    prometheus.Counter
	ActiveSubscriptions prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// NewMetrics returns the process-wide metrics set. Safe to call from
// multiple places, the collectors are registered exactly once.
func NewMetrics() *Metrics {
	once.Do(func() {
		registry := prometheus.NewRegistry()

		instance = &Metrics{
			registry: registry,
			CallsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "calling_calls_started_total",
				Help: "Calls created, labeled by call type.",
			}, []string{"call_type"}),
			CallsAnswered: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "calling_calls_answered_total",
				Help: "Calls that reached the answered status.",
			}),
			CallsDeclined: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "calling_calls_declined_total",
				Help: "Calls declined by the receiver.",
			}),
			CallsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "calling_calls_ended_total",
				Help: "Calls that reached a terminal state, labeled by end reason.",
			}, []string{"reason"}),
			CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "calling_call_duration_seconds",
				Help:    "Connected time of ended calls.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			}),
			CandidatesStored: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "calling_ice_candidates_total",
				Help: "ICE candidate rows appended to the signal log.",
			}),
			ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "calling_active_subscriptions",
				Help: "Live websocket subscriptions to the change feed.",
			}),
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "calling_http_requests_total",
				Help: "HTTP requests, labeled by method, path and status.",
			}, []string{"method", "path", "status"}),
		}

		registry.MustRegister(
			instance.CallsStarted,
			instance.CallsAnswered,
			instance.CallsDeclined,
			instance.CallsEnded,
			instance.CallDuration,
			instance.CandidatesStored,
			instance.ActiveSubscriptions,
			instance.HTTPRequests,
		)
	})
	return instance
}

// RecordCallStarted counts one created call
func (m *Metrics) RecordCallStarted(callType string) {
	m.CallsStarted.WithLabelValues(callType).Inc()
}

// RecordCallAnswered counts one answered call
func (m *Metrics) RecordCallAnswered() {
	m.CallsAnswered.Inc()
}

// RecordCallDeclined counts one declined call
func (m *Metrics) RecordCallDeclined() {
	m.CallsDeclined.Inc()
}

// RecordCallEnded counts one terminal call and its connected time
func (m *Metrics) RecordCallEnded(reason string, durationSec int64) {
	if reason == "" {
		reason = "unknown"
	}
	m.CallsEnded.WithLabelValues(reason).Inc()
	if durationSec > 0 {
		m.CallDuration.Observe(float64(durationSec))
	}
}

// RecordCandidateStored counts one appended signal row
func (m *Metrics) RecordCandidateStored() {
	m.CandidatesStored.Inc()
}

// SubscriptionOpened tracks one new change-feed subscription
func (m *Metrics) SubscriptionOpened() {
	m.ActiveSubscriptions.Inc()
}

// SubscriptionClosed tracks one dropped change-feed subscription
func (m *Metrics) SubscriptionClosed() {
	m.ActiveSubscriptions.Dec()
}

// RecordHTTPRequest counts one served request
func (m *Metrics) RecordHTTPRequest(method, path, status string) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
}

// Handler serves the scrape endpoint for this registry
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
