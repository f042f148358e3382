package bridge

import (
	"ripple-chat/internal/relay"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/logger"
)

// Action ids on call notifications.
const (
	ActionAnswer  = "answer"
	ActionDecline = "decline"
)

// Ringing call notifications vibrate distinctively.
var callVibration = []int{300, 150, 300, 150, 300}

// Opener navigates the device to a deep link, focusing or launching a
// foreground window. Platform-provided.
type Opener interface {
	Open(deepLink string) error
}

// Bridge runs in the background push-listening context. It classifies
// incoming pushes, renders OS notifications, and relays call signals to
// any open foreground session so the app need not wait for the OS-level
// interaction.
type Bridge struct {
	notifier Notifier
	relay    *relay.Server
	opener   Opener
	log      *logger.Logger
}

func NewBridge(notifier Notifier, relayServer *relay.Server, opener Opener, log *logger.Logger) *Bridge {
	return &Bridge{notifier: notifier, relay: relayServer, opener: opener, log: log}
}

// HandlePush processes one push event.
func (b *Bridge) HandlePush(p *PushPayload) error {
	class, err := Classify(p)
	if err != nil {
		b.log.Warnf("bridge: %v, handling as generic", err)
	}
	if class == ClassCall {
		return b.handleCallPush(p)
	}
	return b.handleGenericPush(p)
}

func (b *Bridge) handleCallPush(p *PushPayload) error {
	sig := &relay.CallSignal{
		RoomID:     p.Data["room_id"],
		ThreadID:   p.Data["thread_id"],
		Token:      p.Data["token"],
		CallerID:   p.Data["caller_id"],
		CallType:   p.Data["call_type"],
		CallerName: p.Data["caller_name"],
	}
	if _, err := sig.Metadata(); err != nil {
		b.log.Warnf("bridge: dropping call push: %v", err)
		return err
	}

	// Same signal, both paths at once: the OS notification for a
	// backgrounded device, the relay for an already-open session.
	b.relay.Broadcast(&relay.Message{Kind: relay.KindIncomingCall, Call: sig})

	callerName := sig.CallerName
	if callerName == "" {
		callerName = "Unknown caller"
	}
	n := Notification{
		Tag:        replacementKey(sig),
		Title:      "Incoming " + sig.CallType + " call",
		Body:       callerName + " is calling",
		Persistent: true,
		Silent:     false,
		Vibration:  callVibration,
		Actions: []Action{
			{ID: ActionAnswer, Title: "Answer"},
			{ID: ActionDecline, Title: "Decline"},
		},
		DeepLink: CallDeepLink(sig.RoomID, sig.CallType, sig.ThreadID, sig.CallerName, p.Data["recipient_name"], true, sig.CallerID),
		Data:     p.Data,
	}
	if err := b.notifier.Show(n); err != nil {
		b.log.Errorf("bridge: showing call notification: %v", err)
		return err
	}
	return nil
}

func (b *Bridge) handleGenericPush(p *PushPayload) error {
	title, body := "Notification", ""
	tag := ""
	if p.Notification != nil {
		if p.Notification.Title != "" {
			title = p.Notification.Title
		}
		body = p.Notification.Body
		tag = p.Notification.Tag
	}
	return b.notifier.Show(Notification{
		Tag:      tag,
		Title:    title,
		Body:     body,
		DeepLink: p.Data["url"],
		Data:     p.Data,
	})
}

// HandleAction reacts to the user tapping a call notification action.
func (b *Bridge) HandleAction(actionID string, sig *relay.CallSignal, recipientName string) error {
	if _, err := sig.Metadata(); err != nil {
		return err
	}
	defer func() {
		if err := b.notifier.Close(replacementKey(sig)); err != nil {
			b.log.Warnf("bridge: closing notification: %v", err)
		}
	}()

	switch actionID {
	case ActionAnswer:
		b.relay.Broadcast(&relay.Message{Kind: relay.KindAnswerCall, Call: sig})
		if b.opener != nil {
			link := CallDeepLink(sig.RoomID, sig.CallType, sig.ThreadID, sig.CallerName, recipientName, true, sig.CallerID)
			if err := b.opener.Open(link); err != nil {
				b.log.Errorf("bridge: opening call view: %v", err)
				return err
			}
		}
		return nil
	case ActionDecline:
		// Relay only; declining never navigates.
		b.relay.Broadcast(&relay.Message{Kind: relay.KindDeclineCall, Call: &relay.CallSignal{
			RoomID:   sig.RoomID,
			ThreadID: sig.ThreadID,
			CallerID: sig.CallerID,
			CallType: sig.CallType,
		}})
		return nil
	default:
		return ripple_errors.ErrInvalidInput
	}
}

// replacementKey dedupes notifications per call: thread id when present,
// room id otherwise.
func replacementKey(sig *relay.CallSignal) string {
	if sig.ThreadID != "" {
		return sig.ThreadID
	}
	return sig.RoomID
}
