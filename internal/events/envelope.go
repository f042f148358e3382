package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every payload that crosses the change feed.
type Envelope struct {
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, aggregateType string, aggregateID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now(),
		Payload:       data,
	}, nil
}

// Event type constants, format: domain.action
const (
	EventTypeMessageCreated  = "message.created"
	EventTypeReceiptRead     = "receipt.read"
	EventTypePresenceChanged = "presence.changed"
)

// Aggregate type constants
const (
	AggregateTypeMessage  = "message"
	AggregateTypeReceipt  = "receipt"
	AggregateTypePresence = "presence"
)

// ThreadChannel names the pub/sub channel carrying one thread's feed.
func ThreadChannel(threadID uuid.UUID) string {
	return "thread:" + threadID.String()
}

// PresenceChannel carries all presence change events.
const PresenceChannel = "presence:events"

// ReadReceiptEvent is the payload of a receipt.read envelope.
type ReadReceiptEvent struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
	ThreadID   uuid.UUID   `json:"thread_id"`
	UserID     uuid.UUID   `json:"user_id"`
}

// PresenceEvent is the payload of a presence.changed envelope.
type PresenceEvent struct {
	UserID   uuid.UUID `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}
