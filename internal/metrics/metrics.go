// Package metrics provides Prometheus instrumentation for the chat client. It
// exposes a gauge for the stream state, counters for streamed frames by
// outcome and for reconnects, and a histogram for REST latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StreamState reports the current stream state as a number:
	// 0 idle, 1 connecting, 2 open, 3 closed, 4 failed.
	StreamState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatclient_stream_state",
		Help: "Current state of the active stream channel",
	})

	// StreamFramesTotal counts inbound stream frames, labeled by outcome:
	// "appended", "duplicate", "stale" or "malformed".
	StreamFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_stream_frames_total",
		Help: "Inbound stream frames by reconciliation outcome",
	}, []string{"outcome"})

	// MessagesSentTotal counts sent messages, labeled by path: "stream" or "rest".
	MessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_messages_sent_total",
		Help: "Messages sent by the client",
	}, []string{"path"})

	// ReconnectsTotal counts reconnect attempts of the stream channel.
	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_stream_reconnects_total",
		Help: "Stream reconnect attempts",
	})

	// RequestDuration records REST call latency in seconds, labeled by
	// operation and status class.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatclient_request_duration_seconds",
		Help:    "REST request latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"op", "status"})

	// ErrorsTotal counts errors surfaced to the user, labeled by class.
	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_errors_total",
		Help: "Errors surfaced as notifications, by class",
	}, []string{"kind"})

	// TimelineMessages tracks the number of displayed messages.
	TimelineMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatclient_timeline_messages",
		Help: "Messages displayed for the active chat",
	})
)

func init() {
	prometheus.MustRegister(
		StreamState,
		StreamFramesTotal,
		MessagesSentTotal,
		ReconnectsTotal,
		RequestDuration,
		ErrorsTotal,
		TimelineMessages,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
