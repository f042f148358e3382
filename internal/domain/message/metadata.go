package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	ripple_errors "ripple-chat/pkg/errors"
)

// Metadata payloads form a closed set keyed by message type. Raw JSON is
// decoded exactly once, at the boundary, into one of these variants.

// CallRequestMetadata rides on a call_request message. It is the one
// replicated call signal that reaches other participants and devices.
type CallRequestMetadata struct {
	CallType   string    `json:"callType"`
	RoomID     string    `json:"roomId"`
	Token      string    `json:"token"`
	CallerID   uuid.UUID `json:"callerId"`
	CallerName string    `json:"callerName"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *CallRequestMetadata) Validate() error {
	if m.RoomID == "" {
		return fmt.Errorf("%w: call_request metadata missing roomId", ripple_errors.ErrInvalidInput)
	}
	if m.CallerID == uuid.Nil {
		return fmt.Errorf("%w: call_request metadata missing callerId", ripple_errors.ErrInvalidInput)
	}
	if m.CallType != "audio" && m.CallType != "video" {
		return fmt.Errorf("%w: call_request metadata has call type %q", ripple_errors.ErrInvalidInput, m.CallType)
	}
	return nil
}

// CallEndedMetadata rides on a call_ended message.
type CallEndedMetadata struct {
	RoomID      string    `json:"roomId,omitempty"`
	EndedBy     uuid.UUID `json:"endedBy"`
	Reason      string    `json:"reason,omitempty"`
	DurationSec int       `json:"durationSec,omitempty"`
}

// EncodeMetadata marshals a metadata variant for storage on a message row.
func EncodeMetadata(meta any) (json.RawMessage, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeCallRequest parses and validates call_request metadata from a
// message row. Returns ErrInvalidInput if the payload is malformed.
func DecodeCallRequest(m *Message) (*CallRequestMetadata, error) {
	if m.Type != TypeCallRequest {
		return nil, fmt.Errorf("%w: message %s is %s, not call_request", ripple_errors.ErrInvalidInput, m.ID, m.Type)
	}
	var meta CallRequestMetadata
	if err := json.Unmarshal(m.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("%w: call_request metadata: %v", ripple_errors.ErrInvalidInput, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

// DecodeCallEnded parses call_ended metadata. A call_ended with empty or
// unreadable metadata is still a valid termination signal, so decode errors
// yield a zero value rather than failing.
func DecodeCallEnded(m *Message) *CallEndedMetadata {
	var meta CallEndedMetadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return &meta
}
