// Package server wires HTTP handlers into a ServeMux for the relay service.
package server

import (
	"net/http"

	"github.com/nexuschat/relay/internal/metrics"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket endpoint, and Prometheus metrics.
func SetupRoutes(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.Health)
	mux.HandleFunc("/ws", h.WebSocket)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
