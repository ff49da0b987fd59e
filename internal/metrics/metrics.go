package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "regpilot"
	subsystem = "realtime"
)

// Statuses lists every connection status label, so the status gauge can
// be reset to a one-hot vector on each transition.
var Statuses = []string{"connecting", "connected", "disconnected", "error"}

// Metrics holds the realtime client collectors.
type Metrics struct {
	registry *prometheus.Registry

	status            *prometheus.GaugeVec
	transitions       *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	reconnectDelay    prometheus.Gauge
	messagesSent      *prometheus.CounterVec
	messagesQueued    *prometheus.CounterVec
	messagesEvicted   prometheus.Counter
	messagesReceived  *prometheus.CounterVec
	parseErrors       prometheus.Counter
	handlerErrors     *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	journalFlushes    prometheus.Counter
	journalRows       prometheus.Counter
	journalErrors     prometheus.Counter
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "status",
			Help:      "Current connection status (1 for the active status)",
		}, []string{"status"}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "status_transitions_total",
			Help:      "Total connection status transitions",
		}, []string{"status"}),

		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnection attempts",
		}),

		reconnectDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnect_delay_seconds",
			Help:      "Delay of the most recently scheduled reconnection",
		}),

		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_sent_total",
			Help:      "Total messages written to the socket",
		}, []string{"type"}),

		messagesQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_queued_total",
			Help:      "Total messages placed on the outbound queue",
		}, []string{"type"}),

		messagesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_evicted_total",
			Help:      "Total queued messages dropped because the queue was full",
		}),

		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_received_total",
			Help:      "Total inbound messages by type",
		}, []string{"type"}),

		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "parse_errors_total",
			Help:      "Total inbound frames dropped as malformed",
		}),

		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handler_errors_total",
			Help:      "Total subscriber failures by kind (message, status)",
		}, []string{"kind"}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Current outbound queue depth",
		}),

		journalFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "flushes_total",
			Help:      "Total journal batch flushes",
		}),

		journalRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "rows_inserted_total",
			Help:      "Total journal rows inserted",
		}),

		journalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "errors_total",
			Help:      "Total failed journal flushes",
		}),
	}

	m.registry.MustRegister(
		m.status,
		m.transitions,
		m.reconnectAttempts,
		m.reconnectDelay,
		m.messagesSent,
		m.messagesQueued,
		m.messagesEvicted,
		m.messagesReceived,
		m.parseErrors,
		m.handlerErrors,
		m.queueDepth,
		m.journalFlushes,
		m.journalRows,
		m.journalErrors,
	)

	return m
}

// Registry returns the underlying registry (for tests and extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatusChanged records a transition into status.
func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	for _, s := range Statuses {
		value := 0.0
		if s == status {
			value = 1
		}
		m.status.WithLabelValues(s).Set(value)
	}
	m.transitions.WithLabelValues(status).Inc()
}

// ReconnectScheduled records a scheduled retry.
func (m *Metrics) ReconnectScheduled(delay time.Duration) {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
	m.reconnectDelay.Set(delay.Seconds())
}

// MessageSent records a message written to the socket.
func (m *Metrics) MessageSent(msgType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
}

// MessageQueued records a message placed on the outbound queue.
func (m *Metrics) MessageQueued(msgType string, evicted bool) {
	if m == nil {
		return
	}
	m.messagesQueued.WithLabelValues(msgType).Inc()
	if evicted {
		m.messagesEvicted.Inc()
	}
}

// QueueDepth records the current outbound queue length.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// MessageReceived records an inbound message.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

// ParseError records a malformed inbound frame.
func (m *Metrics) ParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

// HandlerError records a failing subscriber. kind is "message" or "status".
func (m *Metrics) HandlerError(kind string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(kind).Inc()
}

// JournalFlushed records a successful journal flush of n rows.
func (m *Metrics) JournalFlushed(n int) {
	if m == nil {
		return
	}
	m.journalFlushes.Inc()
	m.journalRows.Add(float64(n))
}

// JournalFailed records a failed journal flush.
func (m *Metrics) JournalFailed() {
	if m == nil {
		return
	}
	m.journalErrors.Inc()
}
