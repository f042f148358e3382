package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ripple-chat/internal/domain/call"
	"ripple-chat/internal/domain/message"
	"ripple-chat/internal/domain/thread"
	"ripple-chat/internal/events"
	"ripple-chat/internal/store"
)

type mockStore struct {
	mock.Mock

	sendErr     error
	markReadErr error
}

func (m *mockStore) GetUserThreads(ctx context.Context, userID uuid.UUID) ([]thread.Thread, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]thread.Thread), args.Error(1)
}

func (m *mockStore) GetThread(ctx context.Context, threadID uuid.UUID) (thread.Thread, error) {
	args := m.Called(ctx, threadID)
	return args.Get(0).(thread.Thread), args.Error(1)
}

func (m *mockStore) CreateThread(ctx context.Context, userID uuid.UUID, nt store.NewThread) (uuid.UUID, error) {
	args := m.Called(ctx, userID, nt)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockStore) SendMessage(ctx context.Context, threadID uuid.UUID, out store.OutgoingMessage, senderID uuid.UUID) (message.Message, error) {
	if m.sendErr != nil {
		return message.Message{}, m.sendErr
	}
	typ := out.Type
	if typ == "" {
		typ = message.TypeText
	}
	return message.Message{
		ID:        uuid.New(),
		ThreadID:  threadID,
		SenderID:  senderID,
		Content:   out.Content,
		Type:      typ,
		CreatedAt: time.Now(),
		ReadBy:    []uuid.UUID{senderID},
	}, nil
}

func (m *mockStore) GetThreadMessages(ctx context.Context, threadID uuid.UUID) ([]message.Message, error) {
	args := m.Called(ctx, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]message.Message), args.Error(1)
}

func (m *mockStore) MarkMessagesAsRead(ctx context.Context, threadID uuid.UUID, messageIDs []uuid.UUID, userID uuid.UUID) error {
	if m.markReadErr != nil {
		return m.markReadErr
	}
	args := m.Called(ctx, threadID, messageIDs, userID)
	return args.Error(0)
}

func (m *mockStore) IsParticipant(ctx context.Context, threadID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, threadID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetRecentCalls(ctx context.Context, userID uuid.UUID) ([]call.RecentCallEntry, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]call.RecentCallEntry), args.Error(1)
}

// fakeFeed counts active subscriptions per thread and lets tests inject
// envelopes by hand.
type fakeFeed struct {
	mu       sync.Mutex
	active   map[uuid.UUID]int
	handlers map[uuid.UUID]func(*events.Envelope)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		active:   make(map[uuid.UUID]int),
		handlers: make(map[uuid.UUID]func(*events.Envelope)),
	}
}

func (f *fakeFeed) SubscribeToThread(ctx context.Context, threadID uuid.UUID, handler func(*events.Envelope)) (func(), error) {
	f.mu.Lock()
	f.active[threadID]++
	f.handlers[threadID] = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.active[threadID]--
		f.mu.Unlock()
	}, nil
}

func (f *fakeFeed) activeCount(threadID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[threadID]
}

func (f *fakeFeed) deliver(threadID uuid.UUID, env *events.Envelope) {
	f.mu.Lock()
	handler := f.handlers[threadID]
	f.mu.Unlock()
	if handler != nil {
		handler(env)
	}
}
