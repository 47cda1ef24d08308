package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks live websocket connections, authenticated or not.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parlor_connections_active",
			Help: "Number of live websocket connections",
		},
	)

	// IdentitiesPresent tracks identities with at least one live connection.
	IdentitiesPresent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parlor_identities_present",
			Help: "Number of identities currently present in the registry",
		},
	)

	// MessagesBroadcast counts chat messages fanned out to all connections.
	MessagesBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parlor_messages_broadcast_total",
			Help: "Total number of chat messages broadcast",
		},
	)

	// MessagesDropped counts inbound messages discarded before broadcast,
	// labelled by reason (rate_limited|unknown_connection).
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlor_messages_dropped_total",
			Help: "Total number of inbound messages dropped",
		},
		[]string{"reason"},
	)

	// Logins counts authentication handshakes by result (new|resumed).
	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlor_logins_total",
			Help: "Total number of completed login handshakes",
		},
		[]string{"result"},
	)
)
