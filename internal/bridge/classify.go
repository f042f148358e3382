package bridge

import (
	ripple_errors "ripple-chat/pkg/errors"
)

// PushNotification is the display half of a push payload.
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// PushPayload is what the push transport hands the background context.
// Data values are strings; the transport flattens everything.
type PushPayload struct {
	Notification *PushNotification `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

// Classification of a push payload.
type Classification int

const (
	ClassGeneric Classification = iota
	ClassCall
)

// Classify decides whether a push is a call. The payload has no explicit
// discriminator, so this is a heuristic over field presence and title/tag
// conventions. A payload with some but not all call identifiers is
// ambiguous and falls back to generic handling.
func Classify(p *PushPayload) (Classification, error) {
	hasRoom := p.Data["room_id"] != ""
	hasThread := p.Data["thread_id"] != ""
	hasCallType := p.Data["call_type"] != ""

	if hasRoom && hasThread {
		return ClassCall, nil
	}
	if p.Notification != nil {
		if p.Notification.Tag == "call" || p.Notification.Title == "Incoming call" {
			if hasRoom && hasThread {
				return ClassCall, nil
			}
			// Call-shaped dressing without call identifiers cannot ring.
			return ClassGeneric, ripple_errors.ErrAmbiguousPayload
		}
	}
	if hasRoom || hasThread || hasCallType {
		return ClassGeneric, ripple_errors.ErrAmbiguousPayload
	}
	return ClassGeneric, nil
}
