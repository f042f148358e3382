package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "ripple-chat/internal/domain/presence"
	"ripple-chat/pkg/logger"
)

// SelfReporter is the external presence collaborator. It decides how
// statuses propagate (heartbeats, TTLs, fan-out); the tracker only applies
// what comes back.
type SelfReporter interface {
	Report(ctx context.Context, userID uuid.UUID, status domain.Status) error
}

// Feed delivers other users' status changes.
type Feed interface {
	Subscribe(ctx context.Context, handler func(userID uuid.UUID, status domain.Status, lastSeen time.Time)) (func(), error)
}

// Tracker keeps the per-user presence map for one session. Updates fold in
// last-write-wins by arrival order; there is no ordering token.
type Tracker struct {
	reporter SelfReporter
	feed     Feed
	log      *logger.Logger

	mu        sync.RWMutex
	entries   map[uuid.UUID]domain.Entry
	selfID    uuid.UUID
	unsub     func()
	listeners []func(domain.Entry)
}

func NewTracker(reporter SelfReporter, feed Feed, log *logger.Logger) *Tracker {
	return &Tracker{
		reporter: reporter,
		feed:     feed,
		log:      log,
		entries:  make(map[uuid.UUID]domain.Entry),
	}
}

// Initialize is called once per session start and always leaves self online.
func (t *Tracker) Initialize(ctx context.Context, selfID uuid.UUID) error {
	t.mu.Lock()
	t.selfID = selfID
	t.mu.Unlock()

	unsub, err := t.feed.Subscribe(ctx, t.apply)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.unsub = unsub
	t.mu.Unlock()

	return t.SetStatus(ctx, domain.StatusOnline)
}

// SetStatus reports the session user's own status and applies it locally.
func (t *Tracker) SetStatus(ctx context.Context, status domain.Status) error {
	t.mu.RLock()
	selfID := t.selfID
	t.mu.RUnlock()
	if err := t.reporter.Report(ctx, selfID, status); err != nil {
		return err
	}
	t.apply(selfID, status, time.Now())
	return nil
}

// OnChange registers a listener invoked after each applied update.
func (t *Tracker) OnChange(fn func(domain.Entry)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Tracker) apply(userID uuid.UUID, status domain.Status, lastSeen time.Time) {
	if !status.Valid() {
		t.log.Debugf("presence: ignoring unknown status %q for %s", status, userID)
		return
	}
	entry := domain.Entry{UserID: userID, Status: status, LastSeen: lastSeen}
	t.mu.Lock()
	t.entries[userID] = entry
	listeners := make([]func(domain.Entry), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(entry)
	}
}

// Status returns the last observed entry for a user; unknown users read as
// offline.
func (t *Tracker) Status(userID uuid.UUID) domain.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[userID]; ok {
		return e
	}
	return domain.Entry{UserID: userID, Status: domain.StatusOffline}
}

// Snapshot returns a copy of the whole presence map.
func (t *Tracker) Snapshot() map[uuid.UUID]domain.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uuid.UUID]domain.Entry, len(t.entries))
	for id, e := range t.entries {
		out[id] = e
	}
	return out
}

// Cleanup stops the subscription. Going offline on the wire is left to the
// collaborator's own expiry.
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	unsub := t.unsub
	t.unsub = nil
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
