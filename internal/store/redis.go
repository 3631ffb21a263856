package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/voxrelay/internal/domain"
)

const (
	defaultRedisPrefix = "voxrelay"
	redisMaxTxRetries  = 5
)

// RedisStore keeps each conversation as a JSON array under one key.
// Idle expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithIdleTTL expires conversations that see no writes for ttl. Zero disables expiry.
func WithIdleTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedis creates a Redis-backed conversation store.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(sessionID string) string {
	return fmt.Sprintf("%s:conv:%s", s.prefix, sessionID)
}

// Get returns the session's history.
func (s *RedisStore) Get(ctx context.Context, sessionID string) ([]domain.Message, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return msgs, nil
}

// Reset replaces the session's history with seed.
func (s *RedisStore) Reset(ctx context.Context, sessionID string, seed []domain.Message) error {
	data, err := json.Marshal(seed)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Append adds messages to an existing history.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msgs ...domain.Message) error {
	return s.update(ctx, sessionID, func(cur []domain.Message) []domain.Message {
		return append(cur, msgs...)
	})
}

// Record appends msgs and caps the history in one transaction.
func (s *RedisStore) Record(ctx context.Context, sessionID string, max int, msgs ...domain.Message) error {
	return s.update(ctx, sessionID, func(cur []domain.Message) []domain.Message {
		return domain.Trim(append(cur, msgs...), max)
	})
}

// update performs an optimistic read-modify-write guarded by WATCH.
func (s *RedisStore) update(ctx context.Context, sessionID string, fn func([]domain.Message) []domain.Message) error {
	key := s.key(sessionID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("update %s: %w", sessionID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("redis get failed: %w", err)
		}

		var cur []domain.Message
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("unmarshal messages: %w", err)
		}
		next, err := json.Marshal(fn(cur))
		if err != nil {
			return fmt.Errorf("marshal messages: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too much contention", sessionID)
}

// Delete removes the session.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires idle keys itself.
func (s *RedisStore) Sweep(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

// Len counts conversation keys under the prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+":conv:*", 0).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return n, nil
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
