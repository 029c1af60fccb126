package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records as JSON strings under a key prefix.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore builds a store on top of an existing client.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "idempotency:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("idempotency decode: %w", err)
	}
	return &record, true, nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, record Record, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, s.key(key), raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, record Record, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency put: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("idempotency delete: %w", err)
	}
	return nil
}
