package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

const keyPrefix = "session:"

// Config holds Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore implements port.SessionStore on Redis.
// Each session is one JSON value under session:<actor> with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a new store backed by Redis
func NewRedisStore(cfg Config, logger *zap.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(rdb, cfg.TTL, logger)
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the actor's session or nil when none is stored
func (s *RedisStore) Get(ctx context.Context, actorID string) (*entity.ActorSession, error) {
	raw, err := s.client.Get(ctx, key(actorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess entity.ActorSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		s.logger.Warn("Dropping unreadable session", zap.String("actor_id", actorID), zap.Error(err))
		return nil, nil
	}
	return &sess, nil
}

// Put stores the session, refreshing its TTL
func (s *RedisStore) Put(ctx context.Context, sess *entity.ActorSession) error {
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, key(sess.ActorID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to put session: %w", err)
	}
	return nil
}

// Clear removes the actor's session
func (s *RedisStore) Clear(ctx context.Context, actorID string) error {
	if err := s.client.Del(ctx, key(actorID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(actorID string) string {
	return keyPrefix + actorID
}

var _ port.SessionStore = (*RedisStore)(nil)
