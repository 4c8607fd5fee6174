package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sajor2000/labmanager-sub002/domain"
)

type backend interface {
	ListLab(ctx context.Context, labID string) ([]domain.Item, error)
	CommitReorder(ctx context.Context, commit domain.ReorderCommit) error
	UpdateItemMeta(ctx context.Context, labID string, upd domain.ItemMetaUpdate, etag string) error
}

// Cache wraps a Storage instance with Redis-backed caching for whole-lab
// reads. Mutations pass through and synchronously evict the lab's entry, so
// a read after a successful commit always recomputes from committed rows.
// The commit path itself reads through the uncached methods promoted from
// the embedded Storage; snapshots used for ETag preconditions never come
// from the cache.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) ListLab(ctx context.Context, labID string) ([]domain.Item, error) {
	if items, ok := c.loadFromCache(ctx, labID); ok {
		return items, nil
	}

	items, err := c.base.ListLab(ctx, labID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, labID, items)
	return items, nil
}

func (c *Cache) CommitReorder(ctx context.Context, commit domain.ReorderCommit) error {
	if err := c.base.CommitReorder(ctx, commit); err != nil {
		return err
	}

	c.EvictLab(ctx, commit.LabID)
	return nil
}

func (c *Cache) UpdateItemMeta(ctx context.Context, labID string, upd domain.ItemMetaUpdate, etag string) error {
	if err := c.base.UpdateItemMeta(ctx, labID, upd, etag); err != nil {
		return err
	}

	c.EvictLab(ctx, labID)
	return nil
}

// EvictLab drops the cached rows for one lab.
func (c *Cache) EvictLab(ctx context.Context, labID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, labCacheKey(labID)).Result()
}

func (c *Cache) loadFromCache(ctx context.Context, labID string) ([]domain.Item, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, labCacheKey(labID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, labCacheKey(labID)).Err()
		}
		return nil, false
	}
	var items []domain.Item
	if err := json.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, labCacheKey(labID)).Err()
		return nil, false
	}
	return items, true
}

func (c *Cache) store(ctx context.Context, labID string, items []domain.Item) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, labCacheKey(labID), data, c.ttl).Err()
}

func labCacheKey(labID string) string {
	return "lab:" + labID
}
