// Package relay defines the wire-level message envelopes exchanged between
// clients and the relay over the WebSocket transport.
package relay

import "encoding/json"

// Inbound frame types accepted from clients.
const (
	TypeJoin      = "join"
	TypeChat      = "chat"
	TypeLeaveRoom = "leave-room"
)

// Outbound frame types emitted by the relay.
const (
	TypeConnectionEstablished = "connection-established"
	TypeJoinedRoom            = "joined-room"
	TypeAlreadyInRoom         = "already-in-room"
	TypeLeftRoom              = "left-room"
	TypeUserJoined            = "user-joined"
	TypeUserLeft              = "user-left"
	TypeError                 = "error"
	TypeServerShutdown        = "server-shutdown"
)

// Inbound is the discriminated envelope parsed from every client frame.
type Inbound struct {
	Type string      `json:"type"`
	Data InboundData `json:"data"`
}

// InboundData carries the fields a client may supply with any inbound type.
type InboundData struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message,omitempty"`
}

// Envelope is the outbound frame shape. Data is one of the payload structs
// below, chosen by Type.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WelcomeData is sent once, immediately after a connection is admitted.
type WelcomeData struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// RoomData confirms a room operation back to the acting client.
type RoomData struct {
	RoomID    string `json:"roomId"`
	Occupants int    `json:"occupants,omitempty"`
}

// PresenceData announces another member joining or leaving a room.
type PresenceData struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Occupants int    `json:"occupants,omitempty"`
}

// ChatData is the fan-out payload for a chat message. Timestamp is
// server-assigned wall-clock milliseconds at the moment of broadcast.
type ChatData struct {
	RoomID    string `json:"roomId"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorData describes a recoverable protocol or precondition failure. The
// connection stays open after an error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ShutdownData is broadcast to every connection during graceful shutdown.
type ShutdownData struct {
	Reason string `json:"reason"`
}

// Error codes carried in ErrorData.
const (
	CodeProtocolError = "protocol_error"
	CodeInvalidRoom   = "invalid_room"
	CodeNotMember     = "not_member"
)

func marshalEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func errorEnvelope(code, message string) Envelope {
	return Envelope{Type: TypeError, Data: ErrorData{Code: code, Message: message}}
}
