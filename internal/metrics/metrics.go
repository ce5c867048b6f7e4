package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors exposed by the broker.
type Registry struct {
	Connections gaugeVec
	Messages    counterVec
}

type gaugeVec struct {
	ActiveConnections prometheus.Gauge
}

type counterVec struct {
	MessagesPublished prometheus.Counter
	MessagesDelivered prometheus.Counter
	FramesDropped     prometheus.Counter
	FramingErrors     prometheus.Counter
	CommandErrors     prometheus.Counter
	AcceptErrors      prometheus.Counter
}

// NewRegistry creates the broker's Prometheus metrics collectors.
func NewRegistry() *Registry {
	return &Registry{
		Connections: gaugeVec{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "psub_broker_connections_active",
				Help: "Number of client sessions currently registered with the broker.",
			}),
		},
		Messages: counterVec{
			MessagesPublished: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psub_broker_messages_published_total",
				Help: "Total number of PUB commands accepted by the broker.",
			}),
			MessagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psub_broker_messages_delivered_total",
				Help: "Total number of DATA frames handed to subscriber sessions, including frames a full queue then dropped.",
			}),
			FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psub_broker_frames_dropped_total",
				Help: "Total number of DATA frames dropped because a subscriber's outbound queue was full.",
			}),
			FramingErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psub_broker_framing_errors_total",
				Help: "Total number of frame decode failures observed across all sessions.",
			}),
			CommandErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psub_broker_command_errors_total",
				Help: "Total number of rejected commands (unknown verb or invalid topic).",
			}),
			AcceptErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psub_broker_accept_errors_total",
				Help: "Total number of errors accepting incoming TCP connections.",
			}),
		},
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
