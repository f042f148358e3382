package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	domain "ripple-chat/internal/domain/presence"
	"ripple-chat/internal/events"
	"ripple-chat/pkg/logger"
)

const presenceKeyPrefix = "presence:"

// RedisPresence is the presence collaborator: TTL'd status keys plus a
// pub/sub fan-out of status changes. Expiry of the key is what eventually
// turns a silent client offline.
type RedisPresence struct {
	client *goredis.Client
	log    *logger.Logger
	ttl    time.Duration
}

func NewRedisPresence(client *goredis.Client, ttl time.Duration, log *logger.Logger) *RedisPresence {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &RedisPresence{client: client, ttl: ttl, log: log}
}

// Report implements SelfReporter.
func (p *RedisPresence) Report(ctx context.Context, userID uuid.UUID, status domain.Status) error {
	now := time.Now()
	entry := domain.Entry{UserID: userID, Status: status, LastSeen: now}
	data, _ := json.Marshal(entry)

	ttl := p.ttl
	if status == domain.StatusOffline {
		// Keep offline entries longer for last-seen queries.
		ttl = 24 * time.Hour
	}
	if err := p.client.Set(ctx, presenceKeyPrefix+userID.String(), data, ttl).Err(); err != nil {
		return err
	}

	ev := events.PresenceEvent{UserID: userID, Status: string(status), LastSeen: now}
	env, err := events.NewEnvelope(events.EventTypePresenceChanged, events.AggregateTypePresence, userID.String(), ev)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(env)
	return p.client.Publish(ctx, events.PresenceChannel, payload).Err()
}

// Heartbeat refreshes the TTL without publishing a status change.
func (p *RedisPresence) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	return p.client.Expire(ctx, presenceKeyPrefix+userID.String(), p.ttl).Err()
}

// StartHeartbeat refreshes presence every interval until ctx is done.
func (p *RedisPresence) StartHeartbeat(ctx context.Context, userID uuid.UUID, interval time.Duration) {
	if interval == 0 {
		interval = p.ttl / 3
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Heartbeat(ctx, userID); err != nil && ctx.Err() == nil {
					p.log.Warnf("presence: heartbeat for %s: %v", userID, err)
				}
			}
		}
	}()
}

// Subscribe implements Feed over the presence pub/sub channel.
func (p *RedisPresence) Subscribe(ctx context.Context, handler func(uuid.UUID, domain.Status, time.Time)) (func(), error) {
	sub := p.client.Subscribe(ctx, events.PresenceChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env events.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				var ev events.PresenceEvent
				if err := json.Unmarshal(env.Payload, &ev); err != nil {
					p.log.Warnf("presence: undecodable event: %v", err)
					continue
				}
				handler(ev.UserID, domain.Status(ev.Status), ev.LastSeen)
			}
		}
	}()

	return func() {
		close(done)
		sub.Close()
	}, nil
}
