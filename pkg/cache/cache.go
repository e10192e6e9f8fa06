package cache

import (
	"context"
	"time"
)

// Cache is a key/value store with TTL expiry. Implementations must tolerate
// concurrent readers and writers; no locking guarantee is offered, callers
// treat redundant writes as acceptable (last write wins).
type Cache interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}
