// Package metrics provides Prometheus instrumentation for the Talkline
// messaging server. It exposes gauges for connection and presence counts,
// counters for event and message throughput, and histograms for handler
// latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "talkline_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of distinct identities currently present.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "talkline_online_users",
		Help: "Current number of distinct online user identities",
	})

	// EventsTotal counts client events processed, labeled by event name.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkline_events_total",
		Help: "Total number of client events processed",
	}, []string{"event"})

	// EventLatency records fanout handler latency in seconds.
	EventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "talkline_event_latency_seconds",
		Help:    "Fanout handler latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MessagesTotal counts messages by outcome: "sent", "blocked", or
	// "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkline_messages_total",
		Help: "Total number of messages by outcome",
	}, []string{"result"})

	// FanoutTotal counts targeted channel pushes performed by the engine.
	FanoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkline_fanout_pushes_total",
		Help: "Total number of targeted channel pushes",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		EventsTotal,
		EventLatency,
		MessagesTotal,
		FanoutTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
