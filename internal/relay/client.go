// Package relay manages individual WebSocket connections, handling read/write
// pumps and the per-connection lifecycle state machine.
package relay

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a connection. The only transitions are
// Connecting → Authenticated → Closed; Closed is terminal.
type State int

const (
	// Connecting is the initial state: the socket exists but the token has
	// not been verified, so the connection is not registered anywhere.
	Connecting State = iota
	// Authenticated means the token verified and the connection is admitted
	// to the registry.
	Authenticated
	// Closed is terminal: the connection has been removed from the registry
	// and no further operations are attempted on its behalf.
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Client represents one live transport-level connection. The registry owns
// the authoritative room membership for the connection; the Client only
// references the raw socket and its outbound queue. A user may hold any
// number of concurrent Clients, each tracked independently by its id.
type Client struct {
	id     string
	userID string
	addr   string

	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	log  *slog.Logger

	// state is guarded by hub.mu; see Hub.safeSend and Hub.handleUnregister.
	state State

	maxMessageSize int64
}

// NewClient wraps an authenticated WebSocket connection. The userID is fixed
// for the lifetime of the connection; the connection id is assigned here and
// used for all registry lookups.
func (h *Hub) NewClient(conn *websocket.Conn, userID, addr string) *Client {
	if conn != nil && h.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(h.opts.MaxMessageSize)
	}
	id := uuid.NewString()
	return &Client{
		id:             id,
		userID:         userID,
		addr:           addr,
		conn:           conn,
		send:           make(chan []byte, h.opts.SendBufferSize),
		hub:            h,
		log:            h.log.With("conn", id, "user", userID, "addr", addr),
		state:          Connecting,
		maxMessageSize: h.opts.MaxMessageSize,
	}
}

// ID returns the opaque connection identifier assigned at construction.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user this connection belongs to.
func (c *Client) UserID() string { return c.userID }

// State returns the connection's current lifecycle state.
func (c *Client) State() State {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.state
}

// setupReadConnection configures the read deadline and pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error("set read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError classifies a read error before the pump exits.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded size limit", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", "err", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Debug("connection closed", "err", err)
	default:
		c.log.Warn("websocket read error", "err", err)
	}
}

// readPump reads inbound frames and hands them to the router. It owns
// registry cleanup: whatever ends the connection, the deferred unregister
// fires exactly once and the hub ignores duplicates.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("close in readPump", "err", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			break
		}
		c.hub.router.handle(c, raw)
	}
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with periodic pings. A closed send channel makes the pump write a
// close frame and exit.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.handleMessage(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.handlePing() {
				return
			}
		}
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("close in writePump", "err", err)
	}
}

// handleMessage writes one outbound message, draining any queued frames
// behind it. Returns false when the pump should stop.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("set write deadline", "err", err)
		return false
	}

	if !ok {
		// Send channel closed by the hub: say goodbye and stop.
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("write close frame", "err", err)
		}
		return false
	}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Debug("next writer", "err", err)
		return false
	}
	if _, err := w.Write(message); err != nil {
		c.log.Debug("write message", "err", err)
		return false
	}

	// Drain whatever queued up while we were writing.
	n := len(c.send)
	for i := 0; i < n; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.Debug("write separator", "err", err)
			return false
		}
		if _, err := w.Write(<-c.send); err != nil {
			c.log.Debug("write queued message", "err", err)
			return false
		}
	}

	if err := w.Close(); err != nil {
		c.log.Debug("close writer", "err", err)
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("write ping", "err", err)
		return false
	}
	return true
}
