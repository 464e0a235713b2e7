// Package metrics holds the Prometheus collectors for push and API
// activity. A Metrics value satisfies the observer interfaces of the push
// and api packages.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhle/petropulse/internal/push"
)

// Metrics holds all collectors.
type Metrics struct {
	// Push connection metrics
	PushState           *prometheus.GaugeVec
	PushStateChanges    *prometheus.CounterVec
	PushTransportErrors prometheus.Counter
	PushEvents          *prometheus.CounterVec

	// API metrics
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec

	// Presenter metrics
	AlertsRemoved prometheus.Counter
}

var states = []push.State{push.Disconnected, push.Connecting, push.Connected, push.Reconnecting}

// New creates and registers every collector on registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	m := &Metrics{
		PushState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "petropulse_push_state",
				Help: "1 for the current push connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		PushStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petropulse_push_state_changes_total",
				Help: "Total number of push state publications",
			},
			[]string{"state"},
		),
		PushTransportErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "petropulse_push_transport_errors_total",
				Help: "Total number of failed dials and dropped connections",
			},
		),
		PushEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petropulse_push_events_total",
				Help: "Total number of notification events by outcome",
			},
			[]string{"outcome"},
		),
		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petropulse_api_requests_total",
				Help: "Total number of backend calls by method and status",
			},
			[]string{"method", "status"},
		),
		APIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "petropulse_api_request_duration_seconds",
				Help:    "Backend call duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),
		AlertsRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "petropulse_alerts_removed_total",
				Help: "Total number of transient alerts removed",
			},
		),
	}
	m.StateChanged(push.Disconnected)
	m.PushStateChanges.Reset()
	return m
}

// NewRegistry creates a registry with the metrics registered on it.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, New(reg)
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// StateChanged records a push state publication.
func (m *Metrics) StateChanged(s push.State) {
	for _, candidate := range states {
		v := 0.0
		if candidate == s {
			v = 1
		}
		m.PushState.WithLabelValues(candidate.String()).Set(v)
	}
	m.PushStateChanges.WithLabelValues(s.String()).Inc()
}

// TransportError counts a failed dial or a dropped connection.
func (m *Metrics) TransportError() {
	m.PushTransportErrors.Inc()
}

// EventReceived counts a delivered notification.
func (m *Metrics) EventReceived() {
	m.PushEvents.WithLabelValues("delivered").Inc()
}

// EventDropped counts a malformed notification.
func (m *Metrics) EventDropped() {
	m.PushEvents.WithLabelValues("dropped").Inc()
}

// ObserveRequest records one backend round trip. Status 0 is reported as
// "error".
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.APIRequests.WithLabelValues(method, label).Inc()
	m.APIDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// AlertRemoved counts a removed transient alert.
func (m *Metrics) AlertRemoved() {
	m.AlertsRemoved.Inc()
}
