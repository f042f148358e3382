package store

import (
	"context"

	"github.com/google/uuid"

	"ripple-chat/internal/domain/call"
	"ripple-chat/internal/domain/message"
	"ripple-chat/internal/domain/thread"
	"ripple-chat/internal/events"
)

// NewThread describes a thread to create.
type NewThread struct {
	ParticipantIDs []uuid.UUID
	Type           string
	Title          string
	Metadata       map[string]any
}

// OutgoingMessage describes a message to persist. Type defaults to text.
type OutgoingMessage struct {
	Content     string
	Attachments []message.Attachment
	ReplyToID   uuid.NullUUID
	Type        string
	Metadata    any
}

// MessagingStore is the authoritative persistence for threads and messages.
// Everything client-side is a cache over this.
type MessagingStore interface {
	GetUserThreads(ctx context.Context, userID uuid.UUID) ([]thread.Thread, error)
	GetThread(ctx context.Context, threadID uuid.UUID) (thread.Thread, error)
	CreateThread(ctx context.Context, userID uuid.UUID, nt NewThread) (uuid.UUID, error)
	SendMessage(ctx context.Context, threadID uuid.UUID, out OutgoingMessage, senderID uuid.UUID) (message.Message, error)
	GetThreadMessages(ctx context.Context, threadID uuid.UUID) ([]message.Message, error)
	MarkMessagesAsRead(ctx context.Context, threadID uuid.UUID, messageIDs []uuid.UUID, userID uuid.UUID) error
	IsParticipant(ctx context.Context, threadID, userID uuid.UUID) (bool, error)
	GetRecentCalls(ctx context.Context, userID uuid.UUID) ([]call.RecentCallEntry, error)
}

// ChangeFeed delivers row-change envelopes for a thread. Delivery is
// at-least-once and not necessarily ordered; consumers dedupe and resort.
type ChangeFeed interface {
	// SubscribeToThread starts delivering envelopes for one thread to the
	// handler. The returned func tears down only that subscription.
	SubscribeToThread(ctx context.Context, threadID uuid.UUID, handler func(*events.Envelope)) (func(), error)
}
