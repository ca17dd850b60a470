package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eduard256/roverlive/internal/models"
)

// Metrics holds Prometheus counters and gauges for the daemon
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	activeSessions     prometheus.Gauge
	sseClients         prometheus.Gauge
	streamLatency      *prometheus.GaugeVec
	latencyCorrections prometheus.Counter
	commandsTotal      *prometheus.CounterVec
	pushMessagesTotal  *prometheus.CounterVec
}

// New creates and registers the metrics on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roverlive_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roverlive_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roverlive_active_sessions",
		Help: "Number of open stream sessions",
	})
	sseClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roverlive_sse_clients",
		Help: "Number of connected event stream clients",
	})
	streamLatency := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roverlive_stream_latency_seconds",
		Help: "Last estimated distance behind the live edge per session",
	}, []string{"session"})
	latencyCorrections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roverlive_latency_corrections_total",
		Help: "Total number of seeks back to the live edge",
	})
	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roverlive_device_commands_total",
		Help: "Device command status changes by kind and outcome",
	}, []string{"kind", "outcome"})
	pushMessagesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roverlive_push_messages_total",
		Help: "Push messages received by type",
	}, []string{"type"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		activeSessions,
		sseClients,
		streamLatency,
		latencyCorrections,
		commandsTotal,
		pushMessagesTotal,
	)

	return &Metrics{
		registry:           registry,
		requestsTotal:      requestsTotal,
		errorsTotal:        errorsTotal,
		activeSessions:     activeSessions,
		sseClients:         sseClients,
		streamLatency:      streamLatency,
		latencyCorrections: latencyCorrections,
		commandsTotal:      commandsTotal,
		pushMessagesTotal:  pushMessagesTotal,
	}
}

// IncRequests increments the total request counter
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetActiveSessions sets the open sessions gauge
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// SetSSEClients sets the event stream clients gauge
func (m *Metrics) SetSSEClients(n int) {
	m.sseClients.Set(float64(n))
}

// ObserveLatency records one latency report
func (m *Metrics) ObserveLatency(report models.LatencyReport) {
	m.streamLatency.WithLabelValues(report.SessionID).Set(report.Seconds)
	if report.Corrected {
		m.latencyCorrections.Inc()
	}
}

// ForgetSession drops the per-session series of a closed session
func (m *Metrics) ForgetSession(id string) {
	m.streamLatency.DeleteLabelValues(id)
}

// ObserveCommand counts one command status change
func (m *Metrics) ObserveCommand(st models.CommandStatus) {
	m.commandsTotal.WithLabelValues(string(st.Kind), string(st.Outcome)).Inc()
}

// IncPushMessage counts one received push message
func (m *Metrics) IncPushMessage(kind string) {
	m.pushMessagesTotal.WithLabelValues(kind).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
