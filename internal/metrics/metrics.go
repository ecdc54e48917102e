package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	namespace = "realtime_service"
)

// Metrics holds all application metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Websocket metrics
	WebsocketConnections  prometheus.Gauge
	AuthenticatedConns    prometheus.Gauge
	WebsocketDroppedTotal prometheus.Counter
	AuthFailuresTotal     prometheus.Counter
	EventsReceivedTotal   *prometheus.CounterVec
	EventsDeliveredTotal  *prometheus.CounterVec
	HandlerPanicsTotal    *prometheus.CounterVec

	// Room metrics
	RoomsActive     prometheus.Gauge
	JoinDeniedTotal *prometheus.CounterVec
	RoomsSweptTotal prometheus.Counter

	// Presence and signaling
	DoctorsOnline            prometheus.Gauge
	PresenceTransitionsTotal *prometheus.CounterVec
	CallsActive              prometheus.Gauge

	// Background persistence
	PersistenceFailuresTotal *prometheus.CounterVec

	logger *zap.Logger
}

// New creates and registers all metrics with the default registry
func New(logger *zap.Logger) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, logger)
}

// NewWithRegistry creates and registers all metrics with a custom registry
func NewWithRegistry(registerer prometheus.Registerer, logger *zap.Logger) *Metrics {
	factory := promauto.With(registerer)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),

		WebsocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Current number of open websocket connections",
		}),
		AuthenticatedConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_authenticated_connections",
			Help:      "Current number of authenticated websocket connections",
		}),
		WebsocketDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_dropped_total",
			Help:      "Connections closed because their send buffer was full",
		}),
		AuthFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of failed authenticate events",
		}),
		EventsReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_received_total",
				Help:      "Inbound websocket events by name",
			},
			[]string{"event"},
		),
		EventsDeliveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_delivered_total",
				Help:      "Outbound frames queued to connections by event name",
			},
			[]string{"event"},
		),
		HandlerPanicsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_panics_total",
				Help:      "Recovered panics in event handlers",
			},
			[]string{"step"},
		),

		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Current number of non-empty rooms",
		}),
		JoinDeniedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "join_denied_total",
				Help:      "Denied room joins by reason",
			},
			[]string{"reason"},
		),
		RoomsSweptTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_swept_total",
			Help:      "Empty rooms removed by the maintenance sweep",
		}),

		DoctorsOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "doctors_online",
			Help:      "Current number of doctors with at least one live connection",
		}),
		PresenceTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_transitions_total",
				Help:      "Doctor online/offline transitions",
			},
			[]string{"state"},
		),
		CallsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Video calls in STARTED or JOINED state",
		}),

		PersistenceFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_failures_total",
				Help:      "Background persistence tasks that failed",
			},
			[]string{"task"},
		),

		logger: logger,
	}
}

// safeExecute wraps metric operations with panic recovery.
// A nil *Metrics is valid and records nothing.
func (m *Metrics) safeExecute(operation string, fn func()) {
	if m == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic in metrics operation",
				zap.String("operation", operation),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
