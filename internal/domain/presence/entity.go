package presence

import (
	"time"

	"github.com/google/uuid"
)

// Status values a user can report.
type Status string

const (
	StatusOnline  = Status("online")
	StatusAway    = Status("away")
	StatusBusy    = Status("busy")
	StatusOffline = Status("offline")
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Entry is one user's presence as last observed. Ephemeral; never persisted
// beyond the session.
type Entry struct {
	UserID   uuid.UUID `json:"user_id"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}
