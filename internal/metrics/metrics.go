// Package metrics provides Prometheus instrumentation for the chat engine.
// It exposes gauges for connection and room counts, counters for event
// throughput and delivery failures, and a histogram for publish latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live client connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cartly_chat_connections_total",
		Help: "Current number of live WebSocket connections",
	})

	// RoomsTotal tracks the current number of rooms with at least one subscriber.
	RoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cartly_chat_rooms_total",
		Help: "Current number of registered rooms",
	})

	// EventsPublished counts events published to the bus, labeled by kind.
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartly_chat_events_published_total",
		Help: "Total number of events published to the event bus",
	}, []string{"kind"})

	// FanoutFailures counts subscribers evicted because delivery to them failed.
	FanoutFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cartly_chat_fanout_failures_total",
		Help: "Total number of subscribers dropped during event fan-out",
	})

	// PushFallbacks counts notifications forwarded to the push sink for
	// offline recipients.
	PushFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cartly_chat_push_fallbacks_total",
		Help: "Total number of offline push notifications dispatched",
	})

	// MentionsResolved counts mention events emitted to personal channels.
	MentionsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cartly_chat_mentions_resolved_total",
		Help: "Total number of resolved mention events",
	})

	// PublishLatency records the time to fan a published event out to all
	// subscribers of its room.
	PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cartly_chat_publish_latency_seconds",
		Help:    "Event publish fan-out latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsTotal,
		EventsPublished,
		FanoutFailures,
		PushFallbacks,
		MentionsResolved,
		PublishLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
