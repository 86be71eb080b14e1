package observability

import (
	"chat-core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector of the messaging core.
// Collectors are registered on the given registerer so tests can use a private registry.
type Metrics struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsOpened   prometheus.Counter
	ConnectionsClosed   *prometheus.CounterVec
	MessagesAppended    prometheus.Counter
	AppendFailures      prometheus.Counter
	AppendDuration      prometheus.Histogram
	FanoutPushes        *prometheus.CounterVec
	PresenceTransitions *prometheus.CounterVec
	AcksDropped         prometheus.Counter
	AcksApplied         *prometheus.CounterVec
	QueueLength         *prometheus.GaugeVec
	QueueCapacity       *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Live connections bound to an identity",
		}),
		ConnectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_opened_total",
			Help: "Connections that reached the active state",
		}),
		ConnectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_connections_closed_total",
			Help: "Connections closed, by reason",
		}, []string{"reason"}),
		MessagesAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_appended_total",
			Help: "Messages durably appended",
		}),
		AppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_append_failures_total",
			Help: "Appends rejected by the store",
		}),
		AppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_append_duration_seconds",
			Help:    "Time spent in the store append",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		FanoutPushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_fanout_pushes_total",
			Help: "Pushes to live connections, by result",
		}, []string{"result"}),
		PresenceTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_presence_transitions_total",
			Help: "Presence changes emitted, by state",
		}, []string{"state"}),
		AcksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_acks_dropped_total",
			Help: "Delivery acknowledgments dropped because the queue was full",
		}),
		AcksApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_acks_applied_total",
			Help: "Delivery acknowledgments applied to the store, by result",
		}, []string{"kind", "result"}),
		QueueLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_queue_length",
			Help: "Current length of internal queues",
		}, []string{"queue"}),
		QueueCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_queue_capacity",
			Help: "Capacity of internal queues",
		}, []string{"queue"}),
	}
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewTestMetrics builds metrics on a throwaway registry.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// AckApplied counts one processed acknowledgment.
func (m *Metrics) AckApplied(kind domain.AckKind, err error) {
	label := "delivered"
	if kind == domain.AckKindRead {
		label = "read"
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.AcksApplied.WithLabelValues(label, result).Inc()
}

// PresenceChanged counts one emitted presence transition.
func (m *Metrics) PresenceChanged(state domain.PresenceState) {
	m.PresenceTransitions.WithLabelValues(string(state)).Inc()
}
