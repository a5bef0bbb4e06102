// Package relay coordinates connection admission, room broadcast, and
// connection cleanup for the relay via the Hub type.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nexuschat/relay/internal/metrics"
)

// Options configures hub behavior.
type Options struct {
	// MaxRoomIDLength bounds client-supplied room ids; zero applies the
	// registry default.
	MaxRoomIDLength int
	// MaxMessageSize is the read limit applied to every connection, in bytes.
	MaxMessageSize int64
	// SendBufferSize is the per-connection outbound queue length. A recipient
	// whose queue is full at delivery time is disconnected.
	SendBufferSize int
	// ChatEcho controls whether a chat broadcast is delivered back to its
	// sender. Default is no echo.
	ChatEcho bool
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	return o
}

// roomMessage is one queued fan-out: a serialized envelope bound for every
// member of a room, minus at most one excluded connection.
type roomMessage struct {
	roomID  string
	payload []byte
	exclude string
}

// Hub owns the connection registry and drives the per-connection lifecycle.
// All admissions, removals, and broadcasts funnel through its Run loop, which
// serializes fan-outs so each recipient sees broadcasts in invocation order.
type Hub struct {
	registry *Registry
	router   *Router
	log      *slog.Logger
	opts     Options

	// mu guards Client.state and the closing of send channels. Socket writes
	// never happen under it.
	mu sync.RWMutex

	registerCh   chan *Client
	unregisterCh chan *Client
	broadcastCh  chan roomMessage

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub ready to manage connections. Run must be started in
// its own goroutine before clients are registered.
func NewHub(logger *slog.Logger, opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry:     NewRegistry(opts.MaxRoomIDLength),
		log:          logger,
		opts:         opts.withDefaults(),
		registerCh:   make(chan *Client),
		unregisterCh: make(chan *Client),
		broadcastCh:  make(chan roomMessage, 256),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	h.router = newRouter(h)
	return h
}

// Registry exposes the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Register queues a newly authenticated client for admission. Once shutdown
// has begun no new admissions are accepted and the socket is closed instead.
func (h *Hub) Register(c *Client) {
	select {
	case h.registerCh <- c:
	case <-h.ctx.Done():
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// unregister queues a client for removal. Safe to call multiple times and
// after shutdown has begun.
func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisterCh <- c:
	case <-h.ctx.Done():
	}
}

// Broadcast serializes the envelope once and queues it for delivery to every
// current member of the room, skipping excludeConn if non-empty. Delivery is
// best-effort: per-recipient failures never surface to the caller.
func (h *Hub) Broadcast(roomID string, env Envelope, excludeConn string) {
	payload, err := marshalEnvelope(env)
	if err != nil {
		h.log.Error("marshal broadcast envelope", "type", env.Type, "err", err)
		return
	}
	metrics.MessagesBroadcast.Inc()
	select {
	case h.broadcastCh <- roomMessage{roomID: roomID, payload: payload, exclude: excludeConn}:
	case <-h.ctx.Done():
	}
}

// Run is the hub's event loop. It must run in a dedicated goroutine and exits
// only when Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case c := <-h.registerCh:
			h.handleRegister(c)
		case c := <-h.unregisterCh:
			h.handleUnregister(c)
		case m := <-h.broadcastCh:
			h.fanout(m.roomID, m.payload, m.exclude)
		}
	}
}

// handleRegister admits the client, promotes it to Authenticated, greets it,
// and starts its pumps.
func (h *Hub) handleRegister(c *Client) {
	if c == nil {
		h.log.Warn("nil client registration skipped")
		return
	}
	if err := h.registry.Admit(c); err != nil {
		h.log.Error("admission refused", "conn", c.id, "err", err)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		return
	}

	h.mu.Lock()
	c.state = Authenticated
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()
	h.log.Info("connection admitted", "conn", c.id, "user", c.userID, "total", h.registry.Len())

	h.sendEnvelope(c, Envelope{Type: TypeConnectionEstablished, Data: WelcomeData{ConnectionID: c.id, UserID: c.userID}})

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// handleUnregister removes the client from the registry and every room it was
// in, exactly once. Remaining members of those rooms are told the user left.
func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	if c.state == Closed {
		h.mu.Unlock()
		return
	}
	c.state = Closed
	h.mu.Unlock()

	rooms := h.registry.Remove(c)
	close(c.send)

	metrics.ActiveConnections.Dec()
	metrics.ActiveRooms.Set(float64(h.registry.RoomCount()))
	h.log.Info("connection removed", "conn", c.id, "user", c.userID, "rooms", len(rooms), "total", h.registry.Len())

	for _, roomID := range rooms {
		env := Envelope{Type: TypeUserLeft, Data: PresenceData{RoomID: roomID, UserID: c.userID}}
		payload, err := marshalEnvelope(env)
		if err != nil {
			continue
		}
		h.fanout(roomID, payload, c.id)
	}
}

// fanout delivers a serialized payload to a snapshot of the room's members.
// The snapshot is taken under the registry lock; socket hand-off happens
// outside it, so one stalled recipient cannot block the registry. Recipients
// whose send buffer is full are disconnected.
func (h *Hub) fanout(roomID string, payload []byte, excludeConn string) {
	members := h.registry.MembersOf(roomID)

	var failed []*Client
	for _, c := range members {
		if c.id == excludeConn {
			continue
		}
		if !h.safeSend(c, payload) {
			failed = append(failed, c)
		}
	}

	for _, c := range failed {
		h.dropClient(c)
	}
}

// safeSend queues the payload on the client's send channel without blocking.
// It reports failure if the client is no longer Authenticated or its buffer
// is full.
func (h *Hub) safeSend(c *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if c.state != Authenticated {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// sendEnvelope marshals and queues a frame for a single client.
func (h *Hub) sendEnvelope(c *Client, env Envelope) bool {
	payload, err := marshalEnvelope(env)
	if err != nil {
		h.log.Error("marshal envelope", "type", env.Type, "err", err)
		return false
	}
	return h.safeSend(c, payload)
}

// dropClient disconnects a recipient that failed delivery.
func (h *Hub) dropClient(c *Client) {
	metrics.DeliveryFailures.Inc()
	c.log.Warn("send buffer full, disconnecting")
	h.handleUnregister(c)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// shutdownClients walks the registry once, tells every connection the server
// is going away (best-effort), and closes their send channels so the write
// pumps flush and send close frames.
func (h *Hub) shutdownClients() {
	clients := h.registry.Clients()
	h.log.Info("shutting down client connections", "count", len(clients))

	payload, err := marshalEnvelope(Envelope{Type: TypeServerShutdown, Data: ShutdownData{Reason: "server shutting down"}})
	if err != nil {
		payload = nil
	}

	for _, c := range clients {
		h.mu.Lock()
		if c.state == Closed {
			h.mu.Unlock()
			continue
		}
		c.state = Closed
		h.mu.Unlock()

		h.registry.Remove(c)
		if payload != nil {
			select {
			case c.send <- payload:
			default:
			}
		}
		close(c.send)
	}

	metrics.ActiveConnections.Set(0)
	metrics.ActiveRooms.Set(0)
	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for the event loop and all pump goroutines
// to finish, up to the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub shutdown initiated")
	h.cancel()

	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}

// isExpectedCloseError reports whether an error is part of normal connection
// teardown.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
