package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"throttle/internal/storage"
)

// Client defines the interface for Redis operations used by the store
type Client interface {
	// Eval executes a Lua script
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	// Get reads a string key; the bool is false when the key is absent
	Get(ctx context.Context, key string) (string, bool, error)
	// TTL returns the remaining lifetime of a key
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Scan iterates keys matching a glob pattern
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	// Del deletes keys and returns how many existed
	Del(ctx context.Context, keys ...string) (int64, error)
	// HSet writes hash fields
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGetAll reads all hash fields
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// Expire sets a key's expiry
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Close closes the connection
	Close() error
}

// Store implements storage.CounterStore using Redis
type Store struct {
	client Client
	config *storage.Config
	script string // Lua script for the atomic check-and-increment
}

// NewStore creates a new Redis store
func NewStore(client Client, config *storage.Config) *Store {
	if config == nil {
		config = storage.DefaultConfig()
	}

	// Fixed-window check-and-increment. The expiry is set only when INCR
	// created the key, so later increments in the same window never push
	// the reset point forward.
	script := `
		local limit = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local current = tonumber(redis.call('GET', KEYS[1]) or '0')

		if current >= limit then
			local ttl = redis.call('TTL', KEYS[1])
			if ttl < 0 then
				ttl = window
			end
			return {0, current, ttl}
		end

		local count = redis.call('INCR', KEYS[1])
		if count == 1 then
			redis.call('EXPIRE', KEYS[1], window)
		end

		local ttl = redis.call('TTL', KEYS[1])
		if ttl < 0 then
			ttl = window
		end
		return {1, current, ttl}
	`

	return &Store{
		client: client,
		config: config,
		script: script,
	}
}

// CheckAndCount atomically checks and increments the counter for key
func (s *Store) CheckAndCount(ctx context.Context, key string, limit, windowSeconds int64) (storage.WindowResult, error) {
	if limit <= 0 {
		return storage.WindowResult{}, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if windowSeconds <= 0 {
		return storage.WindowResult{}, fmt.Errorf("window must be positive, got %d", windowSeconds)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.client.Eval(ctx, s.script, []string{s.storeKey(key)}, limit, windowSeconds)
	if err != nil {
		return storage.WindowResult{}, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	res, ok := result.([]any)
	if !ok || len(res) != 3 {
		return storage.WindowResult{}, errors.New("invalid rate limit script result")
	}

	allowed, err := asInt64(res[0])
	if err != nil {
		return storage.WindowResult{}, fmt.Errorf("parsing allowed flag: %w", err)
	}
	countBefore, err := asInt64(res[1])
	if err != nil {
		return storage.WindowResult{}, fmt.Errorf("parsing count: %w", err)
	}
	ttl, err := asInt64(res[2])
	if err != nil {
		return storage.WindowResult{}, fmt.Errorf("parsing ttl: %w", err)
	}

	return storage.WindowResult{
		Allowed:     allowed == 1,
		CountBefore: countBefore,
		TTLSeconds:  ttl,
	}, nil
}

// Peek reads the current count and TTL without incrementing. This is a
// deliberately separate path from CheckAndCount so status queries never
// consume quota.
func (s *Store) Peek(ctx context.Context, key string) (int64, int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	storeKey := s.storeKey(key)

	val, found, err := s.client.Get(ctx, storeKey)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read counter: %w", err)
	}
	if !found {
		return 0, -1, nil
	}

	count, err := asInt64(val)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing counter value: %w", err)
	}

	ttl, err := s.client.TTL(ctx, storeKey)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read ttl: %w", err)
	}

	return count, int64(ttl.Seconds()), nil
}

// DeleteByPattern removes all keys matching the glob pattern
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)

	match := s.storeKey(pattern)

	for {
		keys, next, err := s.scanPage(ctx, cursor, match)
		if err != nil {
			return removed, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			n, err := s.deletePage(ctx, keys)
			removed += n
			if err != nil {
				return removed, fmt.Errorf("failed to delete keys: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// HashSetAll writes all fields of a hash and sets its expiry
func (s *Store) HashSetAll(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	storeKey := s.storeKey(key)

	if err := s.client.HSet(ctx, storeKey, fields); err != nil {
		return fmt.Errorf("failed to write hash: %w", err)
	}
	if ttl > 0 {
		if err := s.client.Expire(ctx, storeKey, ttl); err != nil {
			return fmt.Errorf("failed to set hash expiry: %w", err)
		}
	}
	return nil
}

// HashGetAll reads all fields of a hash
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.storeKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read hash: %w", err)
	}
	return fields, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) scanPage(ctx context.Context, cursor uint64, match string) ([]string, uint64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Scan(ctx, cursor, match, 100)
}

func (s *Store) deletePage(ctx context.Context, keys []string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Del(ctx, keys...)
}

// storeKey prepends the configured namespace prefix
func (s *Store) storeKey(key string) string {
	return s.config.KeyPrefix + key
}

// opContext bounds a single store round-trip
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OpTimeout)
}

// asInt64 converts Lua script results to int64
func asInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case string:
		var n int64
		if _, err := fmt.Sscan(val, &n); err != nil {
			return 0, fmt.Errorf("unexpected value %q", val)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// Ensure Store implements the CounterStore interface
var _ storage.CounterStore = (*Store)(nil)
