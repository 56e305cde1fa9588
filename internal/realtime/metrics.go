package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "candidatehub"
	metricsSubsystem = "realtime"
)

// Metrics holds the realtime Prometheus collectors.
type Metrics struct {
	Connections      prometheus.Gauge
	Rooms            prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	HandlerErrors    *prometheus.CounterVec
	FramesSent       prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	RelayMessages    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg yields working but
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_active",
			Help:      "Number of active realtime connections.",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rooms_active",
			Help:      "Number of candidate rooms with at least one member.",
		}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_received_total",
			Help:      "Client messages received by type.",
		}, []string{"type"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handler_duration_seconds",
			Help:      "Time spent handling a client message.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		HandlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handler_errors_total",
			Help:      "Error events returned to clients by message type and code.",
		}, []string{"type", "code"}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_sent_total",
			Help:      "Frames enqueued to connections.",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_dropped_total",
			Help:      "Frames not delivered, by reason.",
		}, []string{"reason"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "notifications_total",
			Help:      "Notifications processed by the dispatcher, by result.",
		}, []string{"result"}),
		RelayMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "relay_messages_total",
			Help:      "Relay messages by direction.",
		}, []string{"direction"}),
	}
}
