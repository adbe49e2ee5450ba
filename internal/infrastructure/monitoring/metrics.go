package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the shell core.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Navigation policy metrics
	NavigationDecisions *prometheus.CounterVec
	NewWindowRequests   *prometheus.CounterVec

	// Popup lifecycle metrics
	PopupsOpen   prometheus.Gauge
	PopupsOpened prometheus.Counter
	PopupsClosed *prometheus.CounterVec

	// Record store metrics
	StoreOperations *prometheus.CounterVec
	StoreRecords    prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a new metrics collector registered on a private
// registry, so tests can build as many as they like.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

// NewMetricsWithRegistry registers the collectors on the supplied
// registry, which the /metrics endpoint exposes.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shell_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "path"},
		),

		NavigationDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_navigation_decisions_total",
				Help: "Navigation intents by URL category and decision",
			},
			[]string{"category", "decision"},
		),
		NewWindowRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_new_window_requests_total",
				Help: "New-window intents by outcome",
			},
			[]string{"outcome"},
		),

		PopupsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shell_popups_open",
				Help: "Number of tracked auxiliary windows currently open",
			},
		),
		PopupsOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_popups_opened_total",
				Help: "Total auxiliary windows opened for login flows",
			},
		),
		PopupsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_popups_closed_total",
				Help: "Auxiliary windows closed, by cause",
			},
			[]string{"cause"},
		),

		StoreOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_store_operations_total",
				Help: "Conversation store operations by kind and status",
			},
			[]string{"operation", "status"},
		),
		StoreRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shell_store_records",
				Help: "Number of conversation records on disk",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shell_ws_connections",
				Help: "Active engine adapter WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_ws_messages_total",
				Help: "Engine adapter messages by type",
			},
			[]string{"type"},
		),
	}
}

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
