package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ripple-chat/config"
	"ripple-chat/internal/cache"
	"ripple-chat/internal/calls"
	"ripple-chat/internal/presence"
	"ripple-chat/internal/relay"
	"ripple-chat/internal/store"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/logger"
)

// Session is the explicitly constructed context object for one foreground
// run: every service hangs off it instead of living in package globals.
// Built at session start, torn down by Close.
type Session struct {
	Cfg      *config.Config
	Log      *logger.Logger
	SelfID   uuid.UUID
	SelfName string

	DB       *sql.DB
	Redis    *goredis.Client
	Store    store.MessagingStore
	Feed     *store.RedisFeed
	Cache    *cache.ThreadCache
	Presence *presence.Tracker
	Calls    *calls.Coordinator
	Relay    *relay.Client

	reporter *presence.RedisPresence
	provider *calls.InfraClient
	cancel   context.CancelFunc
}

// New wires a session from configuration. The relay connection is
// attempted but optional: a foreground session is fully functional with
// no notifier process running.
func New(ctx context.Context, cfg *config.Config) (*Session, error) {
	selfID, err := uuid.Parse(cfg.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: RIPPLE_USER_ID: %v", ripple_errors.ErrInvalidInput, err)
	}
	log := logger.New(cfg.AppMode).With(
		zap.String("session_id", uuid.NewString()),
		zap.String("user_id", selfID.String()),
	)

	db, err := store.Open(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
	if err != nil {
		return nil, err
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisHost + ":" + cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	feed := store.NewRedisFeed(redisClient, log)
	messagingStore := store.NewPostgresStore(db, feed, log)
	threadCache := cache.NewThreadCache(messagingStore, feed, selfID, log)

	reporter := presence.NewRedisPresence(redisClient, cfg.PresenceTTL, log)
	tracker := presence.NewTracker(reporter, reporter, log)

	provider := calls.NewInfraClient(cfg.RoomAPIURL, cfg.RoomAPIKey, []byte(cfg.TokenSecret), time.Duration(cfg.TokenTTLMin)*time.Minute)
	coordinator := calls.NewCoordinator(messagingStore, threadCache, provider, selfID, cfg.UserName, cfg.CallRingTimeout, log)

	relayClient := relay.NewClient(cfg.RelayAddr, log)

	s := &Session{
		Cfg:      cfg,
		Log:      log,
		SelfID:   selfID,
		SelfName: cfg.UserName,
		DB:       db,
		Redis:    redisClient,
		Store:    messagingStore,
		Feed:     feed,
		Cache:    threadCache,
		Presence: tracker,
		Calls:    coordinator,
		Relay:    relayClient,
		reporter: reporter,
		provider: provider,
	}
	s.wireRelay()
	return s, nil
}

// Start brings presence and the relay link up.
func (s *Session) Start(ctx context.Context) error {
	hbCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.Presence.Initialize(ctx, s.SelfID); err != nil {
		cancel()
		return err
	}
	s.reporter.StartHeartbeat(hbCtx, s.SelfID, 0)

	if err := s.Relay.Connect(ctx); err != nil {
		s.Log.Warnf("session: notifier relay unavailable: %v", err)
	}
	return nil
}

// wireRelay routes validated relay frames into the coordinator.
func (s *Session) wireRelay() {
	s.Relay.OnMessage(func(m *relay.Message) {
		threadID, err := m.Call.ThreadUUID()
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		switch m.Kind {
		case relay.KindIncomingCall:
			meta, err := m.Call.Metadata()
			if err != nil {
				s.Log.Warnf("session: relayed call signal: %v", err)
				return
			}
			s.Calls.HandleIncomingSignal(ctx, threadID, meta)
		case relay.KindAnswerCall:
			if _, err := s.Calls.Answer(threadID); err != nil {
				s.Log.Debugf("session: relayed answer for %s: %v", threadID, err)
			}
		case relay.KindDeclineCall:
			s.Calls.Decline(ctx, threadID)
		}
	})
}

// Close tears the session down in reverse construction order.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Relay.Close()
	s.Presence.Cleanup()
	s.Cache.Close()
	_ = s.Redis.Close()
	_ = s.DB.Close()
	s.Log.Sync()
}
