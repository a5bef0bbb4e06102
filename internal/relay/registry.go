// Package relay implements the connection registry that tracks live
// connections and their room memberships.
package relay

import "sync"

// Registry is the authoritative in-memory store of admitted connections and
// their room memberships. It maintains two views, connection→rooms and
// room→connections, under a single mutex so that neither view can ever be
// observed out of sync with the other.
//
// Rooms are implicit: a room exists while at least one connection references
// it and is dropped when its last member leaves or disconnects.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*registration
	rooms     map[string]map[string]*Client
	maxRoomID int
}

type registration struct {
	client *Client
	rooms  map[string]struct{}
}

// DefaultMaxRoomIDLength bounds client-supplied room ids when no explicit
// limit is configured.
const DefaultMaxRoomIDLength = 128

// NewRegistry creates an empty registry. Room ids longer than maxRoomIDLength
// are rejected by Join; a non-positive value applies the default.
func NewRegistry(maxRoomIDLength int) *Registry {
	if maxRoomIDLength <= 0 {
		maxRoomIDLength = DefaultMaxRoomIDLength
	}
	return &Registry{
		conns:     make(map[string]*registration),
		rooms:     make(map[string]map[string]*Client),
		maxRoomID: maxRoomIDLength,
	}
}

// Admit inserts a newly authenticated connection with an empty room set.
// It returns ErrAlreadyAdmitted if the connection id is already registered.
func (r *Registry) Admit(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; ok {
		return ErrAlreadyAdmitted
	}
	r.conns[c.id] = &registration{client: c, rooms: make(map[string]struct{})}
	return nil
}

// Join adds the connection to a room, creating the room implicitly on first
// join. Occupants reports the room size after the call. Joining a room the
// connection is already in is a no-op reported as AlreadyMember.
func (r *Registry) Join(c *Client, roomID string) (JoinResult, int, error) {
	if roomID == "" || len(roomID) > r.maxRoomID {
		return 0, 0, ErrInvalidRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.conns[c.id]
	if !ok {
		return 0, 0, ErrConnectionGone
	}
	if _, member := reg.rooms[roomID]; member {
		return AlreadyMember, len(r.rooms[roomID]), nil
	}

	reg.rooms[roomID] = struct{}{}
	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]*Client)
		r.rooms[roomID] = members
	}
	members[c.id] = c
	return Joined, len(members), nil
}

// Leave removes the connection from a room. NotMember is reported when the
// connection was not in the room; it is not an error.
func (r *Registry) Leave(c *Client, roomID string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.conns[c.id]
	if !ok {
		return NotMember
	}
	if _, member := reg.rooms[roomID]; !member {
		return NotMember
	}

	delete(reg.rooms, roomID)
	r.dropMember(roomID, c.id)
	return Left
}

// IsMember reports whether the connection is currently a member of the room.
func (r *Registry) IsMember(c *Client, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.conns[c.id]
	if !ok {
		return false
	}
	_, member := reg.rooms[roomID]
	return member
}

// MembersOf returns a point-in-time snapshot of the room's members. The
// returned slice is owned by the caller; delivery iterates it outside the
// registry lock so a stalled recipient cannot block joins and leaves.
func (r *Registry) MembersOf(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	if len(members) == 0 {
		return nil
	}
	snapshot := make([]*Client, 0, len(members))
	for _, c := range members {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

// Remove deletes the connection from every room it belongs to and from the
// registry itself. It is idempotent: removing an unknown connection is a
// no-op. The rooms the connection was a member of are returned so the caller
// can notify remaining members.
func (r *Registry) Remove(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.conns[c.id]
	if !ok {
		return nil
	}

	left := make([]string, 0, len(reg.rooms))
	for roomID := range reg.rooms {
		r.dropMember(roomID, c.id)
		left = append(left, roomID)
	}
	delete(r.conns, c.id)
	return left
}

// Clients returns a snapshot of every admitted connection.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]*Client, 0, len(r.conns))
	for _, reg := range r.conns {
		snapshot = append(snapshot, reg.client)
	}
	return snapshot
}

// Rooms returns the rooms the connection is currently a member of.
func (r *Registry) Rooms(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.conns[c.id]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(reg.rooms))
	for roomID := range reg.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Len returns the number of admitted connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// dropMember removes a connection from the reverse index, deleting the room
// when it empties. Callers must hold the write lock.
func (r *Registry) dropMember(roomID, connID string) {
	members := r.rooms[roomID]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}
