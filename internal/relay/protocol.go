package relay

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"ripple-chat/internal/domain/message"
	ripple_errors "ripple-chat/pkg/errors"
)

// Kind tags every message crossing the background/foreground boundary.
// The set is closed; anything else is rejected at decode.
type Kind string

const (
	KindIncomingCall = Kind("incoming_call")
	KindAnswerCall   = Kind("answer_call")
	KindDeclineCall  = Kind("decline_call")
)

// CallSignal carries the call fields of a relay message. IDs stay strings
// on the wire; they are parsed and validated here, once.
type CallSignal struct {
	RoomID     string `json:"roomId"`
	ThreadID   string `json:"threadId"`
	Token      string `json:"token,omitempty"`
	CallerID   string `json:"callerId"`
	CallType   string `json:"callType,omitempty"`
	CallerName string `json:"callerName,omitempty"`
}

// Message is one tagged relay frame.
type Message struct {
	Kind Kind        `json:"kind"`
	Call *CallSignal `json:"call,omitempty"`
}

// ThreadUUID parses the signal's thread id.
func (s *CallSignal) ThreadUUID() (uuid.UUID, error) {
	return uuid.Parse(s.ThreadID)
}

// CallerUUID parses the signal's caller id.
func (s *CallSignal) CallerUUID() (uuid.UUID, error) {
	return uuid.Parse(s.CallerID)
}

// Metadata converts a validated signal into call_request metadata for the
// coordinator's inbound path.
func (s *CallSignal) Metadata() (*message.CallRequestMetadata, error) {
	callerID, err := s.CallerUUID()
	if err != nil {
		return nil, fmt.Errorf("%w: relay signal callerId: %v", ripple_errors.ErrInvalidInput, err)
	}
	meta := &message.CallRequestMetadata{
		CallType:   s.CallType,
		RoomID:     s.RoomID,
		Token:      s.Token,
		CallerID:   callerID,
		CallerName: s.CallerName,
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// Decode parses and validates one relay frame. Unknown kinds and frames
// missing required fields are rejected; nothing partially decoded crosses
// the boundary.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: relay frame: %v", ripple_errors.ErrInvalidInput, err)
	}
	switch m.Kind {
	case KindIncomingCall, KindAnswerCall, KindDeclineCall:
	default:
		return nil, fmt.Errorf("%w: relay frame kind %q", ripple_errors.ErrInvalidInput, m.Kind)
	}
	if m.Call == nil {
		return nil, fmt.Errorf("%w: relay frame %s missing call signal", ripple_errors.ErrInvalidInput, m.Kind)
	}
	if m.Call.ThreadID == "" || m.Call.RoomID == "" || m.Call.CallerID == "" {
		return nil, fmt.Errorf("%w: relay frame %s missing identifiers", ripple_errors.ErrInvalidInput, m.Kind)
	}
	if _, err := m.Call.ThreadUUID(); err != nil {
		return nil, fmt.Errorf("%w: relay frame threadId: %v", ripple_errors.ErrInvalidInput, err)
	}
	return &m, nil
}

// Encode marshals a relay frame.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}
