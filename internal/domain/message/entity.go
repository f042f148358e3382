package message

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeCallRequest = "call_request"
	TypeCallEnded   = "call_ended"
	TypeSystem      = "system"
)

// Attachment references an uploaded file. Upload itself happens elsewhere;
// the message only carries the pointer.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message represents a single message row. Canonical ordering is
// (CreatedAt, ID) ascending regardless of delivery order.
type Message struct {
	ID          uuid.UUID       `json:"id"`
	ThreadID    uuid.UUID       `json:"thread_id"`
	SenderID    uuid.UUID       `json:"sender_id"`
	Content     string          `json:"content"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	ReplyToID   uuid.NullUUID   `json:"reply_to_id,omitempty"`
	Type        string          `json:"message_type"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ReadBy      []uuid.UUID     `json:"read_by,omitempty"`
	IsDeleted   bool            `json:"is_deleted"`
	DeletedFor  []uuid.UUID     `json:"deleted_for,omitempty"`

	// Unsynced marks a message fabricated locally after a store failure.
	// It is never set on rows returned by the store.
	Unsynced bool `json:"unsynced,omitempty"`
}

func (m *Message) ReadByUser(userID uuid.UUID) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// MarkReadBy adds userID to ReadBy. The set only grows; adding an id that
// is already present is a no-op. Reports whether the set changed.
func (m *Message) MarkReadBy(userID uuid.UUID) bool {
	if m.ReadByUser(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

func (m *Message) DeletedForUser(userID uuid.UUID) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// Less orders messages by (CreatedAt, ID) ascending.
func Less(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Sort sorts messages into canonical order.
func Sort(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return Less(&msgs[i], &msgs[j])
	})
}

// Preview returns the text shown in thread lists.
func (m *Message) Preview() string {
	switch m.Type {
	case TypeCallRequest:
		return "Incoming call"
	case TypeCallEnded:
		return "Call ended"
	default:
		if len(m.Content) > 80 {
			return m.Content[:80]
		}
		return m.Content
	}
}
