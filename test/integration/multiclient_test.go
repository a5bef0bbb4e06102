package integration

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/nexuschat/relay/internal/relay"
)

// TestBroadcastFanout verifies fan-out at scale: every member of the room
// except the sender receives exactly one copy of a chat.
func TestBroadcastFanout(t *testing.T) {
	tr := startRelay(t, nil)

	const numClients = 100
	clients := make([]*wsClient, numClients)
	for i := range clients {
		clients[i] = tr.dial(t, fmt.Sprintf("user-%d", i))
		clients[i].join(t, "big")
	}
	waitForConnections(t, tr.hub, numClients)

	sender := clients[0]
	sender.send(t, `{"type":"chat","data":{"roomId":"big","message":"fan-out"}}`)

	for i, c := range clients[1:] {
		chat := c.waitFor(t, relay.TypeChat)
		var data relay.ChatData
		if err := json.Unmarshal(chat.Data, &data); err != nil {
			t.Fatalf("client %d: unmarshal chat data: %v", i+1, err)
		}
		if data.Message != "fan-out" || data.Sender != "user-0" {
			t.Errorf("client %d got (%q, %q), want (fan-out, user-0)", i+1, data.Message, data.Sender)
		}
	}

	// Exactly one copy: spot-check that no second chat follows.
	for _, c := range clients[1:6] {
		c.expectNone(t, relay.TypeChat)
	}

	// Default echo policy: sender receives no copy.
	sender.expectNone(t, relay.TypeChat)
}

// TestRoomIsolation verifies messages never leak between rooms.
func TestRoomIsolation(t *testing.T) {
	tr := startRelay(t, nil)

	a1 := tr.dial(t, "a1")
	a2 := tr.dial(t, "a2")
	b1 := tr.dial(t, "b1")

	a1.join(t, "room-a")
	a2.join(t, "room-a")
	b1.join(t, "room-b")

	a1.send(t, `{"type":"chat","data":{"roomId":"room-a","message":"secret"}}`)

	a2.waitFor(t, relay.TypeChat)
	b1.expectNone(t, relay.TypeChat)
}

// TestUserInMultipleConnections verifies a user may hold several concurrent
// connections, each tracked independently.
func TestUserInMultipleConnections(t *testing.T) {
	tr := startRelay(t, nil)

	first := tr.dial(t, "alice")
	second := tr.dial(t, "alice")
	waitForConnections(t, tr.hub, 2)

	first.join(t, "r1")
	second.join(t, "r1")

	first.send(t, `{"type":"chat","data":{"roomId":"r1","message":"from first"}}`)

	// The other connection of the same user still receives the chat; the
	// sending connection does not.
	chat := second.waitFor(t, relay.TypeChat)
	var data relay.ChatData
	if err := json.Unmarshal(chat.Data, &data); err != nil {
		t.Fatalf("unmarshal chat data: %v", err)
	}
	if data.Sender != "alice" {
		t.Errorf("chat sender = %q, want alice", data.Sender)
	}
	first.expectNone(t, relay.TypeChat)
}

// TestDisconnectCleanup verifies that closing a connection removes it from
// every room and notifies remaining members.
func TestDisconnectCleanup(t *testing.T) {
	tr := startRelay(t, nil)

	leaving := tr.dial(t, "leaving")
	staying := tr.dial(t, "staying")
	leaving.join(t, "r1")
	staying.join(t, "r1")
	waitForConnections(t, tr.hub, 2)

	_ = leaving.conn.Close()

	left := staying.waitFor(t, relay.TypeUserLeft)
	var data relay.PresenceData
	if err := json.Unmarshal(left.Data, &data); err != nil {
		t.Fatalf("unmarshal presence data: %v", err)
	}
	if data.UserID != "leaving" {
		t.Errorf("user-left carried %q, want leaving", data.UserID)
	}

	waitForConnections(t, tr.hub, 1)
	if got := len(tr.hub.Registry().MembersOf("r1")); got != 1 {
		t.Errorf("room r1 has %d members after disconnect, want 1", got)
	}
}
