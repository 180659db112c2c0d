package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// APIRequests counts backend REST calls by operation and outcome
	// ("ok", "http_4xx", "http_5xx", "error", "no_token").
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedidos_api_requests_total",
			Help: "Backend REST calls issued by the client.",
		},
		[]string{"op", "outcome"},
	)

	// APILatency records backend REST latency in seconds by operation.
	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pedidos_api_request_duration_seconds",
			Help:    "Latency of backend REST calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// SocketEvents counts realtime envelopes by direction and event name.
	SocketEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedidos_socket_events_total",
			Help: "Realtime events sent and received.",
		},
		[]string{"direction", "event"},
	)

	// SocketReconnects counts reconnect attempts of the realtime channel.
	SocketReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pedidos_socket_reconnects_total",
			Help: "Reconnect attempts of the realtime channel.",
		},
	)

	// Polls counts notification loop ticks by loop and outcome.
	Polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedidos_poll_ticks_total",
			Help: "Notification polling and reconciliation ticks.",
		},
		[]string{"loop", "outcome"},
	)

	// UnreadBadge mirrors the last unread count shown on the badge.
	UnreadBadge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pedidos_unread_badge",
			Help: "Unread message count currently shown on the badge.",
		},
	)

	// OpenRooms gauges mounted chat sessions.
	OpenRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pedidos_open_rooms",
			Help: "Chat rooms currently joined by this client.",
		},
	)
)

func init() {
	prometheus.MustRegister(APIRequests, APILatency, SocketEvents, SocketReconnects, Polls, UnreadBadge, OpenRooms)
}
