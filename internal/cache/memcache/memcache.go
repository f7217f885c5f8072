package memcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache keeps entries in process memory. Used when Redis is not configured
// (local development, single instance).
type Cache struct {
	c *gocache.Cache
}

func New(cleanupInterval time.Duration) *Cache {
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &Cache{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *Cache) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Flush drops every entry.
func (m *Cache) Flush() {
	m.c.Flush()
}

func (m *Cache) Len() int {
	return m.c.ItemCount()
}
