package cache

import (
	"context"
	"time"

	"audimeta/pkg/domain"
)

// DefaultTTL is how long a cached record stays valid.
const DefaultTTL = 5 * 24 * time.Hour

// Cache is a byte-oriented key-value store with expiry.
// It is never the source of truth for a record.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
}

// Key builds the cache key for one record: {region}-{kind}-{asin}.
func Key(region string, kind domain.Kind, asin string) string {
	return region + "-" + string(kind) + "-" + asin
}
