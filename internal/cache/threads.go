package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"ripple-chat/internal/domain/message"
	"ripple-chat/internal/domain/thread"
	"ripple-chat/internal/events"
	"ripple-chat/internal/store"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/logger"
)

// ThreadCache is the client-resident read-through cache over the messaging
// store. It owns the open-thread set and per-thread message lists, and is
// the only component that mutates them. The change feed it consumes is
// at-least-once and unordered, so every apply path dedupes by id and keeps
// messages sorted by (created_at, id).
type ThreadCache struct {
	store  store.MessagingStore
	feed   store.ChangeFeed
	log    *logger.Logger
	selfID uuid.UUID

	mu       sync.RWMutex
	threads  map[uuid.UUID]*thread.Thread
	messages map[uuid.UUID][]message.Message
	byID     map[uuid.UUID]map[uuid.UUID]int // threadID -> messageID -> index
	open     []uuid.UUID
	unsubs   map[uuid.UUID]func()

	listenerMu sync.RWMutex
	listeners  []func(*message.Message)
}

func NewThreadCache(s store.MessagingStore, feed store.ChangeFeed, selfID uuid.UUID, log *logger.Logger) *ThreadCache {
	return &ThreadCache{
		store:    s,
		feed:     feed,
		log:      log,
		selfID:   selfID,
		threads:  make(map[uuid.UUID]*thread.Thread),
		messages: make(map[uuid.UUID][]message.Message),
		byID:     make(map[uuid.UUID]map[uuid.UUID]int),
		unsubs:   make(map[uuid.UUID]func()),
	}
}

// OnMessage registers a listener invoked once per newly cached message.
// Duplicate feed deliveries never reach listeners.
func (c *ThreadCache) OnMessage(fn func(*message.Message)) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

// LoadThreads populates the thread list from the store.
func (c *ThreadCache) LoadThreads(ctx context.Context) ([]thread.Thread, error) {
	threads, err := c.store.GetUserThreads(ctx, c.selfID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for i := range threads {
		t := threads[i]
		c.threads[t.ID] = &t
	}
	c.mu.Unlock()
	return threads, nil
}

// OpenThread loads a thread into the cache, adds it to the open set and
// activates its change-feed subscription. Idempotent: a second call for an
// already-open thread does nothing.
func (c *ThreadCache) OpenThread(ctx context.Context, threadID uuid.UUID) error {
	c.mu.RLock()
	_, alreadyOpen := c.unsubs[threadID]
	c.mu.RUnlock()
	if alreadyOpen {
		return nil
	}

	t, err := c.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	msgs, err := c.store.GetThreadMessages(ctx, threadID)
	if err != nil {
		return err
	}

	unsub, err := c.feed.SubscribeToThread(ctx, threadID, c.handleEnvelope)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if _, raced := c.unsubs[threadID]; raced {
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.threads[threadID] = &t
	// Unsynced rows exist only here; a store fetch must never wipe them
	// while they await retry.
	fetched := make(map[uuid.UUID]struct{}, len(msgs))
	for i := range msgs {
		fetched[msgs[i].ID] = struct{}{}
	}
	for _, old := range c.messages[threadID] {
		if !old.Unsynced {
			continue
		}
		if _, ok := fetched[old.ID]; !ok {
			msgs = append(msgs, old)
		}
	}
	message.Sort(msgs)
	c.messages[threadID] = msgs
	idx := make(map[uuid.UUID]int, len(msgs))
	for i := range msgs {
		idx[msgs[i].ID] = i
	}
	c.byID[threadID] = idx
	c.open = append(c.open, threadID)
	c.unsubs[threadID] = unsub
	c.mu.Unlock()
	return nil
}

// CloseThread removes the thread from the open set and tears down only its
// subscription. Cached rows stay for cheap reopening.
func (c *ThreadCache) CloseThread(threadID uuid.UUID) {
	c.mu.Lock()
	unsub := c.unsubs[threadID]
	delete(c.unsubs, threadID)
	for i, id := range c.open {
		if id == threadID {
			c.open = append(c.open[:i], c.open[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// SendMessage persists through the store. On store failure it falls back to
// a local-only message with a client-generated id and an Unsynced flag, so
// a flaky network never blocks the composer. The degraded write is logged,
// not returned.
func (c *ThreadCache) SendMessage(ctx context.Context, threadID uuid.UUID, out store.OutgoingMessage) message.Message {
	m, err := c.store.SendMessage(ctx, threadID, out, c.selfID)
	if err != nil {
		var metadata json.RawMessage
		if out.Metadata != nil {
			metadata, _ = message.EncodeMetadata(out.Metadata)
		}
		typ := out.Type
		if typ == "" {
			typ = message.TypeText
		}
		m = message.Message{
			ID:          uuid.New(),
			ThreadID:    threadID,
			SenderID:    c.selfID,
			Content:     out.Content,
			Attachments: out.Attachments,
			ReplyToID:   out.ReplyToID,
			Type:        typ,
			Metadata:    metadata,
			CreatedAt:   time.Now(),
			ReadBy:      []uuid.UUID{c.selfID},
			Unsynced:    true,
		}
		degraded := &ripple_errors.DegradedWriteError{ThreadID: threadID.String(), LocalID: m.ID.String(), Err: err}
		c.log.Errorf("cache: %v", degraded)
	}
	c.ApplyMessage(&m)
	return m
}

// MarkThreadRead issues one bulk read receipt for every cached message in
// the thread that someone else sent and the current user has not read. On
// store failure nothing changes locally.
func (c *ThreadCache) MarkThreadRead(ctx context.Context, threadID uuid.UUID) error {
	c.mu.RLock()
	var unread []uuid.UUID
	for i := range c.messages[threadID] {
		m := &c.messages[threadID][i]
		if m.SenderID != c.selfID && !m.ReadByUser(c.selfID) {
			unread = append(unread, m.ID)
		}
	}
	c.mu.RUnlock()
	if len(unread) == 0 {
		return nil
	}

	if err := c.store.MarkMessagesAsRead(ctx, threadID, unread, c.selfID); err != nil {
		return err
	}

	c.mu.Lock()
	for _, id := range unread {
		c.markRead(threadID, id, c.selfID)
	}
	if t := c.threads[threadID]; t != nil {
		t.UnreadCount = 0
	}
	c.mu.Unlock()
	return nil
}

// ApplyMessage inserts a message delivered by the feed (or synthesized
// locally). A message already cached under the same id is a no-op,
// absorbing at-least-once redelivery.
func (c *ThreadCache) ApplyMessage(m *message.Message) {
	c.mu.Lock()
	idx, ok := c.byID[m.ThreadID]
	if !ok {
		idx = make(map[uuid.UUID]int)
		c.byID[m.ThreadID] = idx
	}
	if _, dup := idx[m.ID]; dup {
		c.mu.Unlock()
		return
	}

	msgs := append(c.messages[m.ThreadID], *m)
	message.Sort(msgs)
	c.messages[m.ThreadID] = msgs
	for i := range msgs {
		idx[msgs[i].ID] = i
	}

	if t := c.threads[m.ThreadID]; t != nil {
		if m.CreatedAt.After(t.LastMessageAt) {
			t.LastMessageAt = m.CreatedAt
			t.LastMessagePreview = m.Preview()
		}
		if m.SenderID != c.selfID && !m.ReadByUser(c.selfID) {
			t.UnreadCount++
		}
	}
	c.mu.Unlock()

	c.listenerMu.RLock()
	listeners := make([]func(*message.Message), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(m)
	}
}

// ApplyReadReceipt unions userID into read_by of the matching messages in
// whichever cached thread holds them. Re-application is a no-op.
func (c *ThreadCache) ApplyReadReceipt(messageIDs []uuid.UUID, userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for threadID := range c.byID {
		for _, id := range messageIDs {
			c.markRead(threadID, id, userID)
		}
	}
}

// markRead requires c.mu held.
func (c *ThreadCache) markRead(threadID, messageID, userID uuid.UUID) {
	idx, ok := c.byID[threadID]
	if !ok {
		return
	}
	i, ok := idx[messageID]
	if !ok {
		return
	}
	c.messages[threadID][i].MarkReadBy(userID)
}

func (c *ThreadCache) handleEnvelope(env *events.Envelope) {
	switch env.EventType {
	case events.EventTypeMessageCreated:
		var m message.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			c.log.Warnf("cache: undecodable message payload: %v", err)
			return
		}
		// The feed never carries unsynced rows; a spoofed flag must not
		// make a canonical message look local-only.
		m.Unsynced = false
		c.ApplyMessage(&m)
	case events.EventTypeReceiptRead:
		var ev events.ReadReceiptEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			c.log.Warnf("cache: undecodable receipt payload: %v", err)
			return
		}
		c.ApplyReadReceipt(ev.MessageIDs, ev.UserID)
	}
}

// Thread returns a copy of the cached thread.
func (c *ThreadCache) Thread(threadID uuid.UUID) (thread.Thread, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.threads[threadID]
	if !ok {
		return thread.Thread{}, false
	}
	return *t, true
}

// Messages returns a copy of the thread's messages in canonical order,
// excluding rows soft-deleted for the current user.
func (c *ThreadCache) Messages(threadID uuid.UUID) []message.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.messages[threadID]
	out := make([]message.Message, 0, len(src))
	for i := range src {
		if src[i].DeletedForUser(c.selfID) {
			continue
		}
		out = append(out, src[i])
	}
	return out
}

// UnsyncedMessages returns locally fabricated messages awaiting retry.
func (c *ThreadCache) UnsyncedMessages(threadID uuid.UUID) []message.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []message.Message
	for _, m := range c.messages[threadID] {
		if m.Unsynced {
			out = append(out, m)
		}
	}
	return out
}

// OpenThreads returns the open-thread set in open order.
func (c *ThreadCache) OpenThreads() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uuid.UUID, len(c.open))
	copy(out, c.open)
	return out
}

// IsOpen reports membership in the open-thread set.
func (c *ThreadCache) IsOpen(threadID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.unsubs[threadID]
	return ok
}

// Close tears down every subscription.
func (c *ThreadCache) Close() {
	c.mu.Lock()
	unsubs := make([]func(), 0, len(c.unsubs))
	for id, unsub := range c.unsubs {
		unsubs = append(unsubs, unsub)
		delete(c.unsubs, id)
	}
	c.open = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}
