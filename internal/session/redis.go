package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

const (
	// expiredGrace keeps expired sessions in Redis long enough for Stats to
	// count them before the sweep or Redis TTL removes them.
	expiredGrace = 10 * time.Minute

	// maxTxRetries bounds optimistic transaction retries under contention.
	maxTxRetries = 50
)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisBackend stores sessions as JSON in Redis. Each session lives at
// <prefix>session:<id>; <prefix>index is a set of known ids.
type RedisBackend struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisBackendWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisBackendWithClient creates a backend over an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendWithClient(client redis.UniversalClient, keyPrefix string) *RedisBackend {
	return &RedisBackend{client: client, keyPrefix: keyPrefix}
}

func (b *RedisBackend) sessionKey(id string) string {
	return b.keyPrefix + "session:" + id
}

func (b *RedisBackend) indexKey() string {
	return b.keyPrefix + "index"
}

func ttlFor(s *Session) time.Duration {
	ttl := time.Until(s.ExpiresAt) + expiredGrace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.sessionKey(s.ID), data, ttlFor(s))
		pipe.SAdd(ctx, b.indexKey(), s.ID)
		return nil
	})
	return err
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, id string) (*Session, error) {
	data, err := b.client.Get(ctx, b.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeSession(data)
}

// Mutate implements Backend with WATCH/MULTI so concurrent writers on the same
// key, in this or another process, are serialized.
func (b *RedisBackend) Mutate(ctx context.Context, id string, fn MutateFunc) (bool, error) {
	key := b.sessionKey(id)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		found := false
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			found = true

			sess, err := decodeSession(data)
			if err != nil {
				return err
			}

			switch fn(sess) {
			case ActionSave:
				updated, err := json.Marshal(sess)
				if err != nil {
					return fmt.Errorf("failed to marshal session: %w", err)
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttlFor(sess))
					return nil
				})
				return err
			case ActionDelete:
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, b.indexKey(), id)
					return nil
				})
				return err
			default:
				return nil
			}
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return found, nil
	}

	return false, fmt.Errorf("session %s: too much contention", id)
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, b.sessionKey(id))
		pipe.SRem(ctx, b.indexKey(), id)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

// List implements Backend. Index entries whose key has been evicted by Redis
// are pruned.
func (b *RedisBackend) List(ctx context.Context) ([]*Session, error) {
	ids, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.sessionKey(id)
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decodeSession([]byte(raw))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		// Best effort; a failure only leaves the index untidy.
		_ = b.client.SRem(ctx, b.indexKey(), stale...).Err()
	}

	return sessions, nil
}

// Ping checks Redis connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func decodeSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}
