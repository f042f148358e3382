package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ripple-chat/internal/domain/call"
	"ripple-chat/internal/domain/message"
	"ripple-chat/internal/domain/thread"
	"ripple-chat/internal/events"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/logger"
)

// PostgresStore implements MessagingStore on Postgres. Thread participants
// and message sets (read_by, deleted_for, attachments) live in jsonb columns;
// this store backs a client cache, not an analytics workload.
type PostgresStore struct {
	db   *sql.DB
	feed *RedisFeed
	log  *logger.Logger
}

func NewPostgresStore(db *sql.DB, feed *RedisFeed, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, feed: feed, log: log}
}

// Open connects with the pgx stdlib driver.
func Open(host, port, user, password, dbname string) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(50)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

const threadColumns = `id, type, name, participants, last_message_preview, last_message_at, unread_count, created_at, updated_at`

func scanThread(row interface{ Scan(...any) error }) (thread.Thread, error) {
	var t thread.Thread
	var participants []byte
	var preview sql.NullString
	var lastAt sql.NullTime
	err := row.Scan(&t.ID, &t.Type, &t.Name, &participants, &preview, &lastAt, &t.UnreadCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return thread.Thread{}, err
	}
	if err := json.Unmarshal(participants, &t.Participants); err != nil {
		return thread.Thread{}, fmt.Errorf("thread %s: participants column: %w", t.ID, err)
	}
	t.LastMessagePreview = preview.String
	if lastAt.Valid {
		t.LastMessageAt = lastAt.Time
	}
	return t, nil
}

func (s *PostgresStore) GetUserThreads(ctx context.Context, userID uuid.UUID) ([]thread.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE participants @> $1
		ORDER BY last_message_at DESC NULLS LAST`,
		participantFilter(userID))
	if err != nil {
		return nil, ripple_errors.NewTransportError("get_user_threads", err)
	}
	defer rows.Close()

	var threads []thread.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID uuid.UUID) (thread.Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, threadID)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return thread.Thread{}, ripple_errors.ErrNotFound
	}
	if err != nil {
		return thread.Thread{}, ripple_errors.NewTransportError("get_thread", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateThread(ctx context.Context, userID uuid.UUID, nt NewThread) (uuid.UUID, error) {
	if len(nt.ParticipantIDs) == 0 {
		return uuid.Nil, fmt.Errorf("%w: thread needs participants", ripple_errors.ErrInvalidInput)
	}
	typ := nt.Type
	if typ == "" {
		typ = thread.TypeDirect
	}

	participants := make([]thread.Participant, 0, len(nt.ParticipantIDs)+1)
	seen := map[uuid.UUID]bool{}
	for _, id := range append([]uuid.UUID{userID}, nt.ParticipantIDs...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, thread.Participant{ID: id})
	}
	data, err := json.Marshal(participants)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, type, name, participants, unread_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, now(), now())`,
		id, typ, nt.Title, data)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, ripple_errors.ErrAlreadyExists
		}
		return uuid.Nil, ripple_errors.NewTransportError("create_thread", err)
	}
	return id, nil
}

func (s *PostgresStore) SendMessage(ctx context.Context, threadID uuid.UUID, out OutgoingMessage, senderID uuid.UUID) (message.Message, error) {
	typ := out.Type
	if typ == "" {
		typ = message.TypeText
	}

	var metadata json.RawMessage
	if out.Metadata != nil {
		var err error
		metadata, err = message.EncodeMetadata(out.Metadata)
		if err != nil {
			return message.Message{}, err
		}
	}
	attachments, err := json.Marshal(out.Attachments)
	if err != nil {
		return message.Message{}, err
	}

	m := message.Message{
		ID:          uuid.New(),
		ThreadID:    threadID,
		SenderID:    senderID,
		Content:     out.Content,
		Attachments: out.Attachments,
		ReplyToID:   out.ReplyToID,
		Type:        typ,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
		ReadBy:      []uuid.UUID{senderID},
	}
	readBy, _ := json.Marshal(m.ReadBy)

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, thread_id, sender_id, content, attachments, reply_to_id, message_type, metadata, read_by, deleted_for, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '[]', false, now())
		RETURNING created_at`,
		m.ID, m.ThreadID, m.SenderID, m.Content, attachments, nullUUID(m.ReplyToID), m.Type, nullJSON(metadata), readBy,
	).Scan(&m.CreatedAt)
	if err != nil {
		return message.Message{}, ripple_errors.NewTransportError("send_message", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE threads SET last_message_preview = $2, last_message_at = $3, updated_at = now() WHERE id = $1`,
		threadID, m.Preview(), m.CreatedAt); err != nil {
		s.log.Warnf("store: thread preview update for %s failed: %v", threadID, err)
	}

	s.publishMessage(ctx, &m)
	return m, nil
}

func (s *PostgresStore) publishMessage(ctx context.Context, m *message.Message) {
	if s.feed == nil {
		return
	}
	env, err := events.NewEnvelope(events.EventTypeMessageCreated, events.AggregateTypeMessage, m.ID.String(), m)
	if err != nil {
		s.log.Errorf("store: envelope for message %s: %v", m.ID, err)
		return
	}
	if err := s.feed.Publish(ctx, events.ThreadChannel(m.ThreadID), env); err != nil {
		s.log.Warnf("store: feed publish for message %s: %v", m.ID, err)
	}
}

func (s *PostgresStore) GetThreadMessages(ctx context.Context, threadID uuid.UUID) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, sender_id, content, attachments, reply_to_id, message_type, metadata, read_by, deleted_for, is_deleted, created_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC`, threadID)
	if err != nil {
		return nil, ripple_errors.NewTransportError("get_thread_messages", err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(rows *sql.Rows) (message.Message, error) {
	var m message.Message
	var attachments, readBy, deletedFor, metadata []byte
	var replyTo uuid.NullUUID
	err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Content, &attachments, &replyTo, &m.Type, &metadata, &readBy, &deletedFor, &m.IsDeleted, &m.CreatedAt)
	if err != nil {
		return message.Message{}, err
	}
	m.ReplyToID = replyTo
	if len(metadata) > 0 {
		m.Metadata = json.RawMessage(metadata)
	}
	if len(attachments) > 0 {
		_ = json.Unmarshal(attachments, &m.Attachments)
	}
	if len(readBy) > 0 {
		_ = json.Unmarshal(readBy, &m.ReadBy)
	}
	if len(deletedFor) > 0 {
		_ = json.Unmarshal(deletedFor, &m.DeletedFor)
	}
	return m, nil
}

// MarkMessagesAsRead appends userID to read_by of each listed message. The
// jsonb append is conditional so re-marking is a no-op, keeping read_by
// grow-only under concurrent updates from other devices.
func (s *PostgresStore) MarkMessagesAsRead(ctx context.Context, threadID uuid.UUID, messageIDs []uuid.UUID, userID uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	ids := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = id.String()
	}
	idsJSON, _ := json.Marshal(ids)
	userJSON, _ := json.Marshal(userID.String())

	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET read_by = read_by || $3::jsonb
		WHERE thread_id = $1
		  AND id::text IN (SELECT jsonb_array_elements_text($2::jsonb))
		  AND NOT read_by @> $3::jsonb`,
		threadID, idsJSON, fmt.Sprintf("[%s]", userJSON))
	if err != nil {
		return ripple_errors.NewTransportError("mark_messages_as_read", err)
	}

	if s.feed != nil {
		ev := events.ReadReceiptEvent{MessageIDs: messageIDs, ThreadID: threadID, UserID: userID}
		env, err := events.NewEnvelope(events.EventTypeReceiptRead, events.AggregateTypeReceipt, threadID.String(), ev)
		if err == nil {
			if err := s.feed.Publish(ctx, events.ThreadChannel(threadID), env); err != nil {
				s.log.Warnf("store: receipt publish for thread %s: %v", threadID, err)
			}
		}
	}
	return nil
}

func (s *PostgresStore) IsParticipant(ctx context.Context, threadID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM threads WHERE id = $1 AND participants @> $2)`,
		threadID, participantFilter(userID)).Scan(&ok)
	if err != nil {
		return false, ripple_errors.NewTransportError("is_participant", err)
	}
	return ok, nil
}

// GetRecentCalls pairs call_request and call_ended messages per thread into
// a recent-calls listing, newest first.
func (s *PostgresStore) GetRecentCalls(ctx context.Context, userID uuid.UUID) ([]call.RecentCallEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT req.thread_id,
		       COALESCE(req.metadata->>'callType', 'audio'),
		       req.sender_id,
		       req.created_at,
		       ended.created_at,
		       ended.id IS NULL OR NOT (req.read_by @> $2::jsonb OR req.sender_id = $1)
		FROM messages req
		LEFT JOIN LATERAL (
			SELECT id, created_at FROM messages e
			WHERE e.thread_id = req.thread_id
			  AND e.message_type = 'call_ended'
			  AND e.created_at >= req.created_at
			ORDER BY e.created_at ASC LIMIT 1
		) ended ON true
		JOIN threads t ON t.id = req.thread_id
		WHERE req.message_type = 'call_request'
		  AND t.participants @> $3
		ORDER BY req.created_at DESC
		LIMIT 50`,
		userID, fmt.Sprintf("[%q]", userID.String()), participantFilter(userID))
	if err != nil {
		return nil, ripple_errors.NewTransportError("get_recent_calls", err)
	}
	defer rows.Close()

	var entries []call.RecentCallEntry
	for rows.Next() {
		var e call.RecentCallEntry
		var endedAt sql.NullTime
		if err := rows.Scan(&e.ThreadID, &e.CallType, &e.CallerID, &e.StartedAt, &endedAt, &e.Missed); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			e.EndedAt = endedAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func participantFilter(userID uuid.UUID) []byte {
	data, _ := json.Marshal([]map[string]string{{"id": userID.String()}})
	return data
}

func nullUUID(id uuid.NullUUID) any {
	if id.Valid {
		return id.UUID
	}
	return nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
