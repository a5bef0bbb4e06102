package relay

import "errors"

var (
	// ErrAlreadyAdmitted is returned by Registry.Admit when a connection with
	// the same id is already registered.
	ErrAlreadyAdmitted = errors.New("relay: connection already admitted")

	// ErrInvalidRoom is returned when a room id is empty or exceeds the
	// configured maximum length.
	ErrInvalidRoom = errors.New("relay: invalid room id")

	// ErrConnectionGone is returned when an operation references a connection
	// that has already been removed from the registry.
	ErrConnectionGone = errors.New("relay: connection gone")
)

// JoinResult reports the outcome of a Registry.Join call.
type JoinResult int

const (
	// Joined means the connection is now a member of the room.
	Joined JoinResult = iota
	// AlreadyMember means the connection was a member before the call;
	// re-joining is an idempotent no-op.
	AlreadyMember
)

// LeaveResult reports the outcome of a Registry.Leave call.
type LeaveResult int

const (
	// Left means the membership was removed.
	Left LeaveResult = iota
	// NotMember means the connection was not a member of the room; reported
	// to the caller, never fatal.
	NotMember
)
