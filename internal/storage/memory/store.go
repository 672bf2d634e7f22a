package memory

import (
	"context"
	"fmt"
	"math"
	"path"
	"sync"
	"time"

	"throttle/internal/storage"
)

// Store implements storage.CounterStore with in-process state. All operations
// take one mutex, which gives the same atomicity the Redis script gives: no
// caller can observe a counter between the check and the increment.
//
// It backs tests and single-process deployments; it does not provide
// cross-process counting.
type Store struct {
	config *storage.Config
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
	hashes   map[string]*hash
}

type counter struct {
	count     int64
	expiresAt time.Time
}

type hash struct {
	fields    map[string]string
	expiresAt time.Time
}

// NewStore creates a new in-memory store
func NewStore(config *storage.Config) *Store {
	if config == nil {
		config = storage.DefaultConfig()
	}
	return &Store{
		config:   config,
		now:      time.Now,
		counters: make(map[string]*counter),
		hashes:   make(map[string]*hash),
	}
}

// WithClock overrides the time source. Tests use this to advance windows
// without sleeping.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// CheckAndCount atomically checks and increments the counter for key
func (s *Store) CheckAndCount(ctx context.Context, key string, limit, windowSeconds int64) (storage.WindowResult, error) {
	if limit <= 0 {
		return storage.WindowResult{}, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if windowSeconds <= 0 {
		return storage.WindowResult{}, fmt.Errorf("window must be positive, got %d", windowSeconds)
	}
	if err := ctx.Err(); err != nil {
		return storage.WindowResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	storeKey := s.config.KeyPrefix + key

	c, ok := s.counters[storeKey]
	if ok && !c.expiresAt.After(now) {
		delete(s.counters, storeKey)
		ok = false
	}

	if !ok {
		// First increment opens the window and fixes the expiry.
		s.counters[storeKey] = &counter{
			count:     1,
			expiresAt: now.Add(time.Duration(windowSeconds) * time.Second),
		}
		return storage.WindowResult{
			Allowed:     true,
			CountBefore: 0,
			TTLSeconds:  windowSeconds,
		}, nil
	}

	ttl := remainingSeconds(c.expiresAt, now)
	if c.count >= limit {
		return storage.WindowResult{
			Allowed:     false,
			CountBefore: c.count,
			TTLSeconds:  ttl,
		}, nil
	}

	before := c.count
	c.count++
	return storage.WindowResult{
		Allowed:     true,
		CountBefore: before,
		TTLSeconds:  ttl,
	}, nil
}

// Peek reads the current count and TTL without incrementing
func (s *Store) Peek(ctx context.Context, key string) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	storeKey := s.config.KeyPrefix + key

	c, ok := s.counters[storeKey]
	if !ok || !c.expiresAt.After(now) {
		return 0, -1, nil
	}
	return c.count, remainingSeconds(c.expiresAt, now), nil
}

// DeleteByPattern removes all keys matching the glob pattern
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	match := s.config.KeyPrefix + pattern

	var removed int64
	for key, c := range s.counters {
		if !c.expiresAt.After(now) {
			delete(s.counters, key)
			continue
		}
		ok, err := path.Match(match, key)
		if err != nil {
			return removed, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			delete(s.counters, key)
			removed++
		}
	}
	return removed, nil
}

// HashSetAll writes all fields of a hash and sets its expiry
func (s *Store) HashSetAll(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}

	expiresAt := time.Time{}
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.hashes[s.config.KeyPrefix+key] = &hash{
		fields:    copied,
		expiresAt: expiresAt,
	}
	return nil
}

// HashGetAll reads all fields of a hash
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storeKey := s.config.KeyPrefix + key

	h, ok := s.hashes[storeKey]
	if !ok {
		return map[string]string{}, nil
	}
	if !h.expiresAt.IsZero() && !h.expiresAt.After(s.now()) {
		delete(s.hashes, storeKey)
		return map[string]string{}, nil
	}

	copied := make(map[string]string, len(h.fields))
	for k, v := range h.fields {
		copied[k] = v
	}
	return copied, nil
}

// Close releases resources
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]*counter)
	s.hashes = make(map[string]*hash)
	return nil
}

// remainingSeconds rounds up so a freshly opened window reports its full size
func remainingSeconds(expiresAt, now time.Time) int64 {
	return int64(math.Ceil(expiresAt.Sub(now).Seconds()))
}

// Ensure Store implements the CounterStore interface
var _ storage.CounterStore = (*Store)(nil)
