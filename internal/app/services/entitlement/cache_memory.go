package entitlement

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	domain "github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
)

// MemoryCache is an in-process LRU cache with per-entry TTL checked on read.
type MemoryCache struct {
	cache *lru.Cache[string, domain.Record]
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryCache creates a cache holding up to size records for ttl each.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := lru.New[string, domain.Record](size)
	if err != nil {
		// lru.New only errors on non-positive size, guarded above.
		panic(err)
	}
	return &MemoryCache{cache: cache, ttl: ttl, now: time.Now}
}

// Get implements Cache. Aged-out entries are evicted and reported as misses.
func (m *MemoryCache) Get(_ context.Context, key string) (domain.Record, bool) {
	record, ok := m.cache.Get(key)
	if !ok {
		return domain.Record{}, false
	}
	if m.now().Sub(record.LastVerifiedAt) >= m.ttl {
		m.cache.Remove(key)
		return domain.Record{}, false
	}
	return record, true
}

// Set implements Cache.
func (m *MemoryCache) Set(_ context.Context, key string, record domain.Record) {
	m.cache.Add(key, record)
}

// Delete implements Cache.
func (m *MemoryCache) Delete(_ context.Context, key string) {
	m.cache.Remove(key)
}
