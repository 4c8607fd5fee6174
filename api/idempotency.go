package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "move-dedupe"

// RedisDeduper stores seen idempotency keys in Redis so all instances agree
// on whether a move was already executed.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(labID, key string) string {
	return fmt.Sprintf("%s:%s:%s", labID, dedupeKeyPrefix, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, labID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(labID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when the move fails so
// the caller may resubmit under the same key.
func (r *RedisDeduper) Remove(ctx context.Context, labID, key string) error {
	return r.client.Del(ctx, r.key(labID, key)).Err()
}
