package thread

import (
	"time"

	"github.com/google/uuid"
)

// Thread types
const (
	TypeDirect = "direct"
	TypeGroup  = "group"
)

// Participant is a member of a thread as the store reports it.
type Participant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

// Thread represents a conversation container. Unique by ID; a thread
// always has at least one participant.
type Thread struct {
	ID                 uuid.UUID     `json:"id"`
	Type               string        `json:"type"`
	Name               string        `json:"name"`
	Participants       []Participant `json:"participants"`
	LastMessagePreview string        `json:"last_message_preview,omitempty"`
	LastMessageAt      time.Time     `json:"last_message_at"`
	UnreadCount        int           `json:"unread_count"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func (t *Thread) HasParticipant(userID uuid.UUID) bool {
	for _, p := range t.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
