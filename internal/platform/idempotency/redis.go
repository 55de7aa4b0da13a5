package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pos:idem:"

// RedisStore implements Store on Redis. Expiry is delegated to key TTLs so CleanupExpired is a no-op.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Reserve claims key with SET NX. When the key already exists the stored record decides the
// outcome; a key that vanished between the two calls is claimed again once.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	for attempt := 0; ; attempt++ {
		res, _, _ := reserve(Record{}, false, key, fingerprint, now, ttl)
		payload, err := json.Marshal(res.Record)
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
		}
		created, err := s.client.SetNX(ctx, redisKey(key), payload, normalizeTTL(ttl)).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return res, nil
		}

		current, found, err := s.load(ctx, key)
		if err != nil {
			return Reservation{}, err
		}
		if found || attempt > 0 {
			res, _, err = reserve(current, found, key, fingerprint, now, ttl)
			return res, err
		}
	}
}

// SaveResponse overwrites the pending record and restarts its TTL.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	current, found, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	record, err := complete(current, found, key, fingerprint, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(key), payload, normalizeTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	current, found, err := s.load(ctx, key)
	if err != nil || !owns(current, found, fingerprint) {
		return err
	}
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired implements Store.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, key string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}

func redisKey(key string) string {
	return redisKeyPrefix + documentID(key)
}
