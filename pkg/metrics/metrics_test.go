package metrics

import (
	"testing"
)

func getTestMetrics() *Metrics {
	// NewMetrics uses sync.Once internally, so repeated calls are safe
	return NewMetrics()
}

func TestNewMetrics(t *testing.T) {
	m := getTestMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m != NewMetrics() {
		t.Fatal("NewMetrics must return the same instance")
	}
}

func TestMetrics_RecordCallLifecycle(t *testing.T) {
	m := getTestMetrics()
	m.RecordCallStarted("video")
	m.RecordCallAnswered()
	m.RecordCallDeclined()
	m.RecordCallEnded("hangup", 42)
	m.RecordCallEnded("", 0)
	// No panic means success
}

func TestMetrics_RecordCandidateStored(t *testing.T) {
	m := getTestMetrics()
	m.RecordCandidateStored()
}

func TestMetrics_Subscriptions(t *testing.T) {
	m := getTestMetrics()
	m.SubscriptionOpened()
	m.SubscriptionOpened()
	m.SubscriptionClosed()
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	m := getTestMetrics()
	m.RecordHTTPRequest("POST", "/api/calls", "200")
}

func TestMetrics_Handler(t *testing.T) {
	m := getTestMetrics()
	if m.Handler() == nil {
		t.Fatal("Handler returned nil")
	}
}
