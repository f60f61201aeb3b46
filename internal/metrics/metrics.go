package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay hub.
type Metrics struct {
	// Session broker
	ActiveSessions prometheus.Gauge
	Connects       prometheus.Counter
	Disconnects    prometheus.Counter
	Broadcasts     prometheus.Counter
	DroppedFrames  prometheus.Counter
	DispatchErrors prometheus.Counter

	// Correlation gateway
	PendingRegistered prometheus.Counter
	PendingResolved   prometheus.Counter
	UnknownTokens     prometheus.Counter
	AwaitTimeouts     prometheus.Counter

	// Media streaming
	MediaRequests prometheus.Counter
	RangeErrors   prometheus.Counter

	// HTTP surface
	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all hub metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babel_active_sessions",
			Help: "Current number of open front-end sessions",
		}),
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_session_connects_total",
			Help: "Total number of front-end session connects",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_session_disconnects_total",
			Help: "Total number of front-end session disconnects",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_broadcasts_total",
			Help: "Total number of text frames broadcast to front-end sessions",
		}),
		DroppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_dropped_frames_total",
			Help: "Total number of frames dropped because a session queue was full or missing",
		}),
		DispatchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_dispatch_errors_total",
			Help: "Total number of session messages that failed to decode",
		}),
		PendingRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_pending_registered_total",
			Help: "Total number of correlation tokens registered",
		}),
		PendingResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_pending_resolved_total",
			Help: "Total number of correlation tokens resolved",
		}),
		UnknownTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_unknown_tokens_total",
			Help: "Total number of replies that carried an unknown correlation token",
		}),
		AwaitTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_await_timeouts_total",
			Help: "Total number of correlated requests that timed out awaiting a reply",
		}),
		MediaRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_media_requests_total",
			Help: "Total number of media streaming requests",
		}),
		RangeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_range_errors_total",
			Help: "Total number of media requests rejected for an invalid range",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_http_requests_total",
			Help: "Total HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
	}
}
