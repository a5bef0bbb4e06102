// Package server exposes the HTTP handlers for the relay: the WebSocket
// upgrade with handshake authentication, health check, and metrics.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexuschat/relay/internal/auth"
	"github.com/nexuschat/relay/internal/metrics"
	"github.com/nexuschat/relay/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// Handlers bundles the collaborators the HTTP surface needs.
type Handlers struct {
	hub      *relay.Hub
	verifier auth.Verifier
	log      *slog.Logger
}

// NewHandlers wires the hub and token verifier into the HTTP handlers.
func NewHandlers(hub *relay.Hub, verifier auth.Verifier, logger *slog.Logger) *Handlers {
	return &Handlers{hub: hub, verifier: verifier, log: logger}
}

// WebSocket upgrades the connection and runs the handshake: the token comes
// from the "token" query parameter and must verify before the connection is
// registered anywhere. A missing or invalid token closes the socket with a
// policy-violation status and no application-level exchange happens.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	token := r.URL.Query().Get("token")
	userID, err := h.verifier.Verify(token)
	if err != nil {
		metrics.AuthRejections.Inc()
		h.log.Warn("handshake rejected", "addr", r.RemoteAddr, "err", err)
		closePolicyViolation(conn)
		return
	}

	client := h.hub.NewClient(conn, userID, r.RemoteAddr)
	h.hub.Register(client)
}

// closePolicyViolation sends a 1008 close frame and drops the socket.
func closePolicyViolation(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token")
	_ = conn.WriteControl(websocket.CloseMessage, message, deadline)
	_ = conn.Close()
}

// Health provides a simple health check endpoint that returns server status.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relay is running")
}
