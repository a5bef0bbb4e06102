// Package metrics exposes Prometheus instruments for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks currently admitted connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "active_connections",
		Help:      "Number of currently admitted WebSocket connections.",
	})

	// ActiveRooms tracks rooms with at least one member.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "active_rooms",
		Help:      "Number of rooms with at least one member.",
	})

	// MessagesBroadcast counts fan-out invocations.
	MessagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "messages_broadcast_total",
		Help:      "Total number of room broadcasts.",
	})

	// DeliveryFailures counts recipients dropped because their send buffer
	// was full at delivery time.
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "delivery_failures_total",
		Help:      "Total per-recipient delivery failures.",
	})

	// AuthRejections counts handshakes refused for a missing or invalid token.
	AuthRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "auth_rejections_total",
		Help:      "Total connections rejected at handshake time.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
