package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"ripple-chat/internal/events"
	"ripple-chat/pkg/logger"
)

// RedisFeed carries change-feed envelopes over Redis pub/sub. Pub/sub gives
// no ordering or exactly-once guarantee, which is exactly the contract the
// cache reconciles against.
type RedisFeed struct {
	client *goredis.Client
	log    *logger.Logger
}

func NewRedisFeed(client *goredis.Client, log *logger.Logger) *RedisFeed {
	return &RedisFeed{client: client, log: log}
}

// Publish fans an envelope out on a channel.
func (f *RedisFeed) Publish(ctx context.Context, channel string, env *events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, channel, data).Err()
}

// SubscribeToThread implements ChangeFeed.
func (f *RedisFeed) SubscribeToThread(ctx context.Context, threadID uuid.UUID, handler func(*events.Envelope)) (func(), error) {
	return f.subscribe(ctx, events.ThreadChannel(threadID), handler)
}

// SubscribePresence delivers presence.changed envelopes.
func (f *RedisFeed) SubscribePresence(ctx context.Context, handler func(*events.Envelope)) (func(), error) {
	return f.subscribe(ctx, events.PresenceChannel, handler)
}

func (f *RedisFeed) subscribe(ctx context.Context, channel string, handler func(*events.Envelope)) (func(), error) {
	sub := f.client.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning so a publish
	// racing this call is not silently missed.
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
					f.log.Warnf("feed: dropping undecodable payload on %s: %v", channel, err)
					continue
				}
				handler(&env)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}, nil
}
