package storage

import (
	"context"
	"time"
)

// WindowResult is the outcome of one atomic check-and-increment round-trip.
type WindowResult struct {
	// Allowed reports whether the request fit under the limit.
	Allowed bool
	// CountBefore is the counter value observed before this increment.
	CountBefore int64
	// TTLSeconds is the remaining lifetime of the window.
	TTLSeconds int64
}

// CounterStore defines the interface for distributed window counters.
//
// CheckAndCount must be a single atomic operation against the backing store:
// read the counter, increment it only if under the limit, and set the window
// expiry only when the increment created the key. Splitting this into separate
// calls reintroduces the check/increment race the contract exists to prevent.
type CounterStore interface {
	// CheckAndCount atomically checks and increments the counter for key.
	CheckAndCount(ctx context.Context, key string, limit, windowSeconds int64) (WindowResult, error)

	// Peek reads the current count and TTL without incrementing.
	// A missing key reports count 0 and ttl -1.
	Peek(ctx context.Context, key string) (count, ttlSeconds int64, err error)

	// DeleteByPattern removes all keys matching the glob pattern and
	// returns how many keys were removed.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)

	// HashSetAll writes all fields of a hash and sets its expiry.
	HashSetAll(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// HashGetAll reads all fields of a hash. A missing key returns an empty map.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// Close closes the store and releases resources.
	Close() error
}

// Config defines common configuration for counter stores.
type Config struct {
	// KeyPrefix is prepended to every key written by the store.
	KeyPrefix string
	// OpTimeout bounds each store round-trip.
	OpTimeout time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix: "throttle:",
		OpTimeout: 50 * time.Millisecond,
	}
}
