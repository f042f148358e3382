package call

import (
	"time"

	"github.com/google/uuid"
)

// Call types
const (
	TypeAudio = "audio"
	TypeVideo = "video"
)

// State is the per-thread signaling state. Ended collapses straight back
// to Idle, so it never appears as a stored value.
type State int

const (
	StateIdle State = iota
	StateRingingOutgoing
	StateRingingIncoming
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateRingingOutgoing:
		return "ringing_outgoing"
	case StateRingingIncoming:
		return "ringing_incoming"
	case StateConnected:
		return "connected"
	default:
		return "idle"
	}
}

// Ringing reports whether the state is either ringing variant.
func (s State) Ringing() bool {
	return s == StateRingingOutgoing || s == StateRingingIncoming
}

// Request is the ephemeral client-side record of an active call, keyed by
// thread id. The durable record of the signal is the call_request message
// row itself; this struct is never persisted.
type Request struct {
	ThreadID   uuid.UUID
	Type       string
	CallerID   uuid.UUID
	CallerName string
	RoomID     string
	Token      string
	StartedAt  time.Time
}

// RecentCallEntry summarizes a past call derived from the call_request /
// call_ended message pair of a thread.
type RecentCallEntry struct {
	ThreadID  uuid.UUID
	CallType  string
	CallerID  uuid.UUID
	StartedAt time.Time
	EndedAt   time.Time
	Missed    bool
}
