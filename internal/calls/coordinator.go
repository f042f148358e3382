package calls

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ripple-chat/internal/cache"
	"ripple-chat/internal/domain/call"
	"ripple-chat/internal/domain/message"
	"ripple-chat/internal/store"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/logger"
)

// EventKind is a local same-process call signal for UI surfaces and other
// listeners in this session.
type EventKind int

const (
	EventOutgoingRinging EventKind = iota
	EventIncomingRinging
	EventConnected
	EventEnded
)

type Event struct {
	Kind     EventKind
	ThreadID uuid.UUID
	Request  *call.Request
}

// Coordinator runs the per-thread call signaling state machine:
//
//	Idle -> Ringing(Outgoing) -> Connected -> Idle
//	Idle -> Ringing(Incoming) -> Connected|Declined -> Idle
//
// Signals travel as ordinary messages through the thread cache, so the
// same at-least-once unordered feed that carries chat text carries call
// control. Every transition tolerates duplicates and reordering.
type Coordinator struct {
	store    store.MessagingStore
	cache    *cache.ThreadCache
	provider RoomProvider
	log      *logger.Logger

	selfID      uuid.UUID
	selfName    string
	ringTimeout time.Duration

	mu       sync.Mutex
	states   map[uuid.UUID]call.State
	requests map[uuid.UUID]*call.Request
	timers   map[uuid.UUID]*time.Timer

	listenerMu sync.RWMutex
	listeners  []func(Event)
}

func NewCoordinator(s store.MessagingStore, c *cache.ThreadCache, provider RoomProvider, selfID uuid.UUID, selfName string, ringTimeout time.Duration, log *logger.Logger) *Coordinator {
	if ringTimeout == 0 {
		ringTimeout = 45 * time.Second
	}
	coord := &Coordinator{
		store:       s,
		cache:       c,
		provider:    provider,
		log:         log,
		selfID:      selfID,
		selfName:    selfName,
		ringTimeout: ringTimeout,
		states:      make(map[uuid.UUID]call.State),
		requests:    make(map[uuid.UUID]*call.Request),
		timers:      make(map[uuid.UUID]*time.Timer),
	}
	c.OnMessage(coord.HandleMessage)
	return coord
}

// OnEvent registers a same-process listener for call lifecycle events.
func (c *Coordinator) OnEvent(fn func(Event)) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

func (c *Coordinator) emit(ev Event) {
	c.listenerMu.RLock()
	listeners := make([]func(Event), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// StartCall initiates an outgoing call. Valid only from Idle. Room and
// token failures abort with CallSetupError before any state change; a
// failure persisting the call_request afterwards is logged and accepted,
// at the cost that the callee may never ring.
func (c *Coordinator) StartCall(ctx context.Context, threadID uuid.UUID, callType string) (*call.Request, error) {
	if callType != call.TypeAudio && callType != call.TypeVideo {
		return nil, ripple_errors.ErrInvalidInput
	}
	c.mu.Lock()
	if c.states[threadID] != call.StateIdle {
		c.mu.Unlock()
		return nil, ripple_errors.ErrCallInProgress
	}
	c.mu.Unlock()

	roomID, err := c.provider.CreateRoom(ctx)
	if err != nil {
		return nil, ripple_errors.NewCallSetupError(ripple_errors.StageRoomCreate, err)
	}
	token, err := c.provider.IssueToken(ctx, roomID, c.selfID)
	if err != nil {
		return nil, ripple_errors.NewCallSetupError(ripple_errors.StageTokenIssue, err)
	}

	req := &call.Request{
		ThreadID:   threadID,
		Type:       callType,
		CallerID:   c.selfID,
		CallerName: c.selfName,
		RoomID:     roomID,
		Token:      token,
		StartedAt:  time.Now(),
	}

	c.mu.Lock()
	if c.states[threadID] != call.StateIdle {
		c.mu.Unlock()
		return nil, ripple_errors.ErrCallInProgress
	}
	c.states[threadID] = call.StateRingingOutgoing
	c.requests[threadID] = req
	c.armRingTimer(threadID)
	c.mu.Unlock()

	c.emit(Event{Kind: EventOutgoingRinging, ThreadID: threadID, Request: req})

	// The one replicated signal that rings other participants and devices.
	// Cache falls back to a local-only row on store failure and logs the
	// degraded write; the already-started local call is not rolled back.
	sent := c.cache.SendMessage(ctx, threadID, store.OutgoingMessage{
		Content: "Incoming call",
		Type:    message.TypeCallRequest,
		Metadata: message.CallRequestMetadata{
			CallType:   callType,
			RoomID:     roomID,
			Token:      token,
			CallerID:   c.selfID,
			CallerName: c.selfName,
			Timestamp:  req.StartedAt,
		},
	})
	if sent.Unsynced {
		c.log.Warnf("calls: call_request for thread %s persisted locally only; callee may not ring", threadID)
	}
	return req, nil
}

// HandleMessage consumes every message the cache accepts, reacting to call
// control types. Registered as a cache listener at construction.
func (c *Coordinator) HandleMessage(m *message.Message) {
	switch m.Type {
	case message.TypeCallRequest:
		if m.SenderID == c.selfID {
			// Own signal, possibly from another device. Never ring the
			// session that placed (or mirrors) the call.
			return
		}
		meta, err := message.DecodeCallRequest(m)
		if err != nil {
			c.log.Warnf("calls: dropping malformed call_request %s: %v", m.ID, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.handleInbound(ctx, m.ThreadID, meta)
	case message.TypeCallEnded:
		c.handleEnded(m.ThreadID)
	}
}

// HandleIncomingSignal rings from a bridge-relayed push while no live feed
// delivery has arrived yet. Same guards as the feed path.
func (c *Coordinator) HandleIncomingSignal(ctx context.Context, threadID uuid.UUID, meta *message.CallRequestMetadata) {
	if meta.CallerID == c.selfID {
		return
	}
	if err := meta.Validate(); err != nil {
		c.log.Warnf("calls: dropping malformed relayed signal for thread %s: %v", threadID, err)
		return
	}
	c.handleInbound(ctx, threadID, meta)
}

func (c *Coordinator) handleInbound(ctx context.Context, threadID uuid.UUID, meta *message.CallRequestMetadata) {
	c.mu.Lock()
	state := c.states[threadID]
	c.mu.Unlock()
	if state.Ringing() || state == call.StateConnected {
		// Idempotent by thread id: redelivered or double-sourced signals
		// for an active call are ignored.
		return
	}

	// A stale or malformed push must never ring a non-participant.
	ok, err := c.store.IsParticipant(ctx, threadID, c.selfID)
	if err != nil {
		c.log.Warnf("calls: participant check for thread %s: %v", threadID, err)
		return
	}
	if !ok {
		c.log.Debugf("calls: dropping call_request for thread %s: %v", threadID, ripple_errors.ErrNotParticipant)
		return
	}

	req := &call.Request{
		ThreadID:   threadID,
		Type:       meta.CallType,
		CallerID:   meta.CallerID,
		CallerName: meta.CallerName,
		RoomID:     meta.RoomID,
		Token:      meta.Token,
		StartedAt:  meta.Timestamp,
	}

	c.mu.Lock()
	if s := c.states[threadID]; s.Ringing() || s == call.StateConnected {
		c.mu.Unlock()
		return
	}
	c.states[threadID] = call.StateRingingIncoming
	c.requests[threadID] = req
	c.armRingTimer(threadID)
	c.mu.Unlock()

	c.emit(Event{Kind: EventIncomingRinging, ThreadID: threadID, Request: req})
}

// Answer moves an incoming ring to Connected.
func (c *Coordinator) Answer(threadID uuid.UUID) (*call.Request, error) {
	c.mu.Lock()
	if c.states[threadID] != call.StateRingingIncoming {
		c.mu.Unlock()
		return nil, ripple_errors.ErrNotFound
	}
	c.states[threadID] = call.StateConnected
	c.disarmRingTimer(threadID)
	req := c.requests[threadID]
	c.mu.Unlock()

	c.emit(Event{Kind: EventConnected, ThreadID: threadID, Request: req})
	return req, nil
}

// MarkConnected records that the far side answered an outgoing ring.
func (c *Coordinator) MarkConnected(threadID uuid.UUID) {
	c.mu.Lock()
	if c.states[threadID] != call.StateRingingOutgoing {
		c.mu.Unlock()
		return
	}
	c.states[threadID] = call.StateConnected
	c.disarmRingTimer(threadID)
	req := c.requests[threadID]
	c.mu.Unlock()

	c.emit(Event{Kind: EventConnected, ThreadID: threadID, Request: req})
}

// Decline rejects an incoming ring and tells the far side.
func (c *Coordinator) Decline(ctx context.Context, threadID uuid.UUID) {
	c.end(ctx, threadID, "declined")
}

// EndCall hangs up whatever call the thread has and tells the far side.
func (c *Coordinator) EndCall(ctx context.Context, threadID uuid.UUID) {
	c.end(ctx, threadID, "hangup")
}

func (c *Coordinator) end(ctx context.Context, threadID uuid.UUID, reason string) {
	c.mu.Lock()
	req := c.requests[threadID]
	active := req != nil || c.states[threadID] != call.StateIdle
	c.clearLocked(threadID)
	c.mu.Unlock()
	if !active {
		// A stray decline or hangup for a thread with no call must not
		// drop a "Call ended" row into the conversation.
		return
	}

	var roomID string
	var duration int
	if req != nil {
		roomID = req.RoomID
		duration = int(time.Since(req.StartedAt).Seconds())
	}
	c.cache.SendMessage(ctx, threadID, store.OutgoingMessage{
		Content: "Call ended",
		Type:    message.TypeCallEnded,
		Metadata: message.CallEndedMetadata{
			RoomID:      roomID,
			EndedBy:     c.selfID,
			Reason:      reason,
			DurationSec: duration,
		},
	})
	c.emit(Event{Kind: EventEnded, ThreadID: threadID, Request: req})
}

// handleEnded applies a call_ended of any origin. It always clears the
// thread's request and resets to Idle, even when no call_request was ever
// observed here, so a subscription race can never leave a thread ringing.
func (c *Coordinator) handleEnded(threadID uuid.UUID) {
	c.mu.Lock()
	req := c.requests[threadID]
	hadState := c.states[threadID] != call.StateIdle
	c.clearLocked(threadID)
	c.mu.Unlock()

	if hadState || req != nil {
		c.emit(Event{Kind: EventEnded, ThreadID: threadID, Request: req})
	}
}

// ClearCallRequest drops local call state without notifying the far side,
// e.g. when a UI surface is dismissed.
func (c *Coordinator) ClearCallRequest(threadID uuid.UUID) {
	c.mu.Lock()
	c.clearLocked(threadID)
	c.mu.Unlock()
}

// clearLocked requires c.mu held.
func (c *Coordinator) clearLocked(threadID uuid.UUID) {
	delete(c.requests, threadID)
	delete(c.states, threadID)
	c.disarmRingTimer(threadID)
}

// armRingTimer requires c.mu held. A ring that is neither answered nor
// ended within the timeout is hung up so the far side converges even when
// the caller just closes the call surface.
func (c *Coordinator) armRingTimer(threadID uuid.UUID) {
	c.disarmRingTimer(threadID)
	c.timers[threadID] = time.AfterFunc(c.ringTimeout, func() {
		c.mu.Lock()
		ringing := c.states[threadID].Ringing()
		c.mu.Unlock()
		if !ringing {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.end(ctx, threadID, "timeout")
	})
}

// disarmRingTimer requires c.mu held.
func (c *Coordinator) disarmRingTimer(threadID uuid.UUID) {
	if timer, ok := c.timers[threadID]; ok {
		timer.Stop()
		delete(c.timers, threadID)
	}
}

// Request returns the ephemeral call record for a thread, if any.
func (c *Coordinator) Request(threadID uuid.UUID) (*call.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[threadID]
	return req, ok
}

// StateOf returns the thread's signaling state.
func (c *Coordinator) StateOf(threadID uuid.UUID) call.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[threadID]
}

// RecentCalls lists past calls from the store.
func (c *Coordinator) RecentCalls(ctx context.Context) ([]call.RecentCallEntry, error) {
	return c.store.GetRecentCalls(ctx, c.selfID)
}
