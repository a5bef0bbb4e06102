// Package relay routes inbound client frames to registry and delivery
// operations, reporting recoverable failures as error frames.
package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nexuschat/relay/internal/metrics"
)

// Router interprets inbound frames. Client-input problems are answered with
// an error frame on the sender's connection and never close it; only
// transport-level faults end a connection.
type Router struct {
	hub *Hub
	log *slog.Logger
	now func() time.Time
}

func newRouter(h *Hub) *Router {
	return &Router{hub: h, log: h.log, now: time.Now}
}

// handle parses one raw frame and dispatches on its type. It runs on the
// sender's read pump goroutine.
func (rt *Router) handle(c *Client, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		rt.log.Debug("malformed frame", "conn", c.id, "err", err)
		rt.hub.sendEnvelope(c, errorEnvelope(CodeProtocolError, "malformed JSON"))
		return
	}

	switch in.Type {
	case TypeJoin:
		rt.handleJoin(c, in.Data)
	case TypeChat:
		rt.handleChat(c, in.Data)
	case TypeLeaveRoom:
		rt.handleLeave(c, in.Data)
	default:
		rt.hub.sendEnvelope(c, errorEnvelope(CodeProtocolError, "unknown message type: "+in.Type))
	}
}

// handleJoin adds the sender to a room. Re-joining is reported as
// already-in-room, not an error; everyone already there hears user-joined.
func (rt *Router) handleJoin(c *Client, data InboundData) {
	if data.RoomID == "" {
		rt.hub.sendEnvelope(c, errorEnvelope(CodeProtocolError, "join requires data.roomId"))
		return
	}

	result, occupants, err := rt.hub.registry.Join(c, data.RoomID)
	switch {
	case errors.Is(err, ErrInvalidRoom):
		rt.hub.sendEnvelope(c, errorEnvelope(CodeInvalidRoom, "invalid room id"))
		return
	case errors.Is(err, ErrConnectionGone):
		// Connection already closed; pending operation dropped silently.
		return
	case err != nil:
		rt.log.Error("join failed", "conn", c.id, "room", data.RoomID, "err", err)
		return
	}

	if result == AlreadyMember {
		rt.hub.sendEnvelope(c, Envelope{Type: TypeAlreadyInRoom, Data: RoomData{RoomID: data.RoomID, Occupants: occupants}})
		return
	}

	metrics.ActiveRooms.Set(float64(rt.hub.registry.RoomCount()))
	rt.log.Info("joined room", "conn", c.id, "user", c.userID, "room", data.RoomID, "occupants", occupants)

	rt.hub.sendEnvelope(c, Envelope{Type: TypeJoinedRoom, Data: RoomData{RoomID: data.RoomID, Occupants: occupants}})
	rt.hub.Broadcast(data.RoomID, Envelope{
		Type: TypeUserJoined,
		Data: PresenceData{RoomID: data.RoomID, UserID: c.userID, Occupants: occupants},
	}, c.id)
}

// handleChat fans a message out to the sender's room. The sender must already
// be a member; the broadcast carries the user id and a server-assigned
// timestamp. Whether the sender hears its own message is governed by the
// hub's echo option.
func (rt *Router) handleChat(c *Client, data InboundData) {
	if data.RoomID == "" {
		rt.hub.sendEnvelope(c, errorEnvelope(CodeProtocolError, "chat requires data.roomId"))
		return
	}
	if data.Message == "" {
		rt.hub.sendEnvelope(c, errorEnvelope(CodeProtocolError, "chat requires data.message"))
		return
	}
	if !rt.hub.registry.IsMember(c, data.RoomID) {
		rt.hub.sendEnvelope(c, errorEnvelope(CodeNotMember, "join the room before sending to it"))
		return
	}

	exclude := c.id
	if rt.hub.opts.ChatEcho {
		exclude = ""
	}
	rt.hub.Broadcast(data.RoomID, Envelope{
		Type: TypeChat,
		Data: ChatData{
			RoomID:    data.RoomID,
			Message:   data.Message,
			Sender:    c.userID,
			Timestamp: rt.now().UnixMilli(),
		},
	}, exclude)
}

// handleLeave removes the sender from a room and tells the remaining members.
func (rt *Router) handleLeave(c *Client, data InboundData) {
	if data.RoomID == "" {
		rt.hub.sendEnvelope(c, errorEnvelope(CodeProtocolError, "leave-room requires data.roomId"))
		return
	}

	if rt.hub.registry.Leave(c, data.RoomID) == NotMember {
		rt.hub.sendEnvelope(c, errorEnvelope(CodeNotMember, "not a member of room"))
		return
	}

	metrics.ActiveRooms.Set(float64(rt.hub.registry.RoomCount()))
	rt.log.Info("left room", "conn", c.id, "user", c.userID, "room", data.RoomID)

	rt.hub.sendEnvelope(c, Envelope{Type: TypeLeftRoom, Data: RoomData{RoomID: data.RoomID}})
	rt.hub.Broadcast(data.RoomID, Envelope{
		Type: TypeUserLeft,
		Data: PresenceData{RoomID: data.RoomID, UserID: c.userID},
	}, c.id)
}
