package cache

import (
	"context"
	"time"
)

// BytesCache is a key-value store with per-key TTL.
// Implementations: rediscache (shared between instances) and memcache (single process).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
