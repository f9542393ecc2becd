package cache

import (
	"context"
	"time"
)

// Backend is the storage contract behind the cache service. A miss is
// reported through the bool, not an error; errors mean the backend itself
// misbehaved.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// AddToSet appends members to an index set and refreshes its TTL.
	AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
