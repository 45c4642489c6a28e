// Package core holds the ports shared between the service layer and the data layer.
package core

import (
	"context"
	"time"
)

// CacheRepository is a byte-oriented remote cache.
type CacheRepository interface {
	// Set stores value under key. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns nil when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) (bool, error)

	Exists(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets key only when it is absent.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Health(ctx context.Context) error
}
