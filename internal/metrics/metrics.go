package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message store
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_messages_ingested_total",
			Help: "Messages inserted into a conversation timeline",
		},
		[]string{"source"}, // push, poll, history, local
	)

	MessagesDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_messages_deduplicated_total",
			Help: "Candidate messages absorbed by deduplication",
		},
		[]string{"reason"}, // id, fuzzy
	)

	// Push channel
	PushEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_push_events_dropped_total",
			Help: "Push events that were not delivered to a session",
		},
		[]string{"reason"}, // malformed, unrouted, mismatch
	)

	ChannelConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_channel_connected",
			Help: "1 while the push channel is connected",
		},
	)

	ChannelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "support_channel_reconnects_total",
			Help: "Push channel reconnection attempts",
		},
	)

	// Polling fallback
	PollRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_poll_requests_total",
			Help: "Polling fallback ticks by outcome",
		},
		[]string{"result"}, // ok, error, discarded
	)

	PollLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "support_poll_latency_seconds",
			Help:    "Latency of messages-since requests",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Directory and user actions
	DirectoryRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_directory_refreshes_total",
			Help: "Conversation directory refreshes by outcome",
		},
		[]string{"result"},
	)

	Actions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_actions_total",
			Help: "User-initiated actions by kind and outcome",
		},
		[]string{"action", "result"}, // send|status|read|create, ok|error
	)
)

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
