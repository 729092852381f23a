package entitlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	domain "github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
)

// RedisCache shares entitlement verdicts across processes. Redis handles the
// TTL; a miss or any Redis error reads as a cache miss so the resolver falls
// back to the ledger.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache creates a Redis-backed cache with the given TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "entitlement:"}
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, key string) (domain.Record, bool) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return domain.Record{}, false
	}
	var record domain.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.Record{}, false
	}
	return record, true
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key string, record domain.Record) {
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	r.client.Set(ctx, r.prefix+key, raw, r.ttl)
}

// Delete implements Cache.
func (r *RedisCache) Delete(ctx context.Context, key string) {
	r.client.Del(ctx, r.prefix+key)
}
