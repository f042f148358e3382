package calls

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

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateRoom(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) IssueToken(ctx context.Context, roomID string, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, roomID, userID)
	return args.String(0), args.Error(1)
}

// mockStore records sent messages in memory so tests can assert on the
// persisted signal without a database.
type mockStore struct {
	mu           sync.Mutex
	sent         []message.Message
	sendErr      error
	participants map[uuid.UUID]map[uuid.UUID]bool
	partErr      error
	recent       []call.RecentCallEntry
}

func newMockStore() *mockStore {
	return &mockStore{participants: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (m *mockStore) addParticipant(threadID, userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.participants[threadID] == nil {
		m.participants[threadID] = make(map[uuid.UUID]bool)
	}
	m.participants[threadID][userID] = true
}

func (m *mockStore) sentMessages() []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]message.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockStore) sentOfType(typ string) []message.Message {
	var out []message.Message
	for _, msg := range m.sentMessages() {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockStore) GetUserThreads(ctx context.Context, userID uuid.UUID) ([]thread.Thread, error) {
	return nil, nil
}

func (m *mockStore) GetThread(ctx context.Context, threadID uuid.UUID) (thread.Thread, error) {
	return thread.Thread{ID: threadID, Type: thread.TypeDirect}, nil
}

func (m *mockStore) CreateThread(ctx context.Context, userID uuid.UUID, nt store.NewThread) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (m *mockStore) SendMessage(ctx context.Context, threadID uuid.UUID, out store.OutgoingMessage, senderID uuid.UUID) (message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return message.Message{}, m.sendErr
	}
	var metadata []byte
	if out.Metadata != nil {
		metadata, _ = message.EncodeMetadata(out.Metadata)
	}
	msg := message.Message{
		ID:        uuid.New(),
		ThreadID:  threadID,
		SenderID:  senderID,
		Content:   out.Content,
		Type:      out.Type,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		ReadBy:    []uuid.UUID{senderID},
	}
	m.sent = append(m.sent, msg)
	return msg, nil
}

func (m *mockStore) GetThreadMessages(ctx context.Context, threadID uuid.UUID) ([]message.Message, error) {
	return nil, nil
}

func (m *mockStore) MarkMessagesAsRead(ctx context.Context, threadID uuid.UUID, messageIDs []uuid.UUID, userID uuid.UUID) error {
	return nil
}

func (m *mockStore) IsParticipant(ctx context.Context, threadID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.partErr != nil {
		return false, m.partErr
	}
	return m.participants[threadID][userID], nil
}

func (m *mockStore) GetRecentCalls(ctx context.Context, userID uuid.UUID) ([]call.RecentCallEntry, error) {
	return m.recent, nil
}

type noopFeed struct{}

func (noopFeed) SubscribeToThread(ctx context.Context, threadID uuid.UUID, handler func(*events.Envelope)) (func(), error) {
	return func() {}, nil
}
