// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes.
const (
	OutcomeOnline  = "online"
	OutcomeOffline = "offline"
	OutcomeDropped = "dropped"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks open live connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections_active",
			Help: "Number of open WebSocket connections",
		},
	)

	// PresenceEntries tracks identities with a registered connection.
	PresenceEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_presence_entries",
			Help: "Number of identities with a live connection",
		},
	)

	// MessagesPersisted counts messages saved by the delivery path.
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Total messages persisted",
		},
	)

	// SendFailures counts rejected or failed sends by error kind.
	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_send_failures_total",
			Help: "Total failed send-message requests",
		},
		[]string{"kind"},
	)

	// Deliveries counts routing outcomes for persisted messages.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_deliveries_total",
			Help: "Message routing outcomes",
		},
		[]string{"outcome"},
	)

	// StoreDuration tracks message store call latency.
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_duration_seconds",
			Help:    "Message store operation duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op", "status"},
	)

	// EventsPublished counts downstream feed publishes.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_published_total",
			Help: "Total events published to the downstream feed",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStore records the duration of one store call.
func RecordStore(op string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreDuration.WithLabelValues(op, status).Observe(duration)
}

// RecordDelivery records where a persisted message went.
func RecordDelivery(outcome string) {
	Deliveries.WithLabelValues(outcome).Inc()
}

// RecordSendFailure records a failed send by kind.
func RecordSendFailure(kind string) {
	SendFailures.WithLabelValues(kind).Inc()
}

// RecordPublish records a downstream publish attempt.
func RecordPublish(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	EventsPublished.WithLabelValues(status).Inc()
}

// IncrementWSConnections increments the active WebSocket connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the active WebSocket connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}

// SetPresenceEntries sets the presence gauge.
func SetPresenceEntries(n int) {
	PresenceEntries.Set(float64(n))
}
