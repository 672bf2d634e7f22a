package memory

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCheckAndCountBasics(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	// First call opens the window
	res, err := store.CheckAndCount(ctx, "k", 2, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed || res.CountBefore != 0 || res.TTLSeconds != 60 {
		t.Errorf("first call = %+v, want allowed with count 0 and ttl 60", res)
	}

	// Second call still under the limit
	res, err = store.CheckAndCount(ctx, "k", 2, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed || res.CountBefore != 1 {
		t.Errorf("second call = %+v, want allowed with count 1", res)
	}

	// Third call exceeds the limit and must not increment
	res, err = store.CheckAndCount(ctx, "k", 2, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed {
		t.Error("third call should be denied")
	}
	if res.CountBefore != 2 {
		t.Errorf("denied call reported count %d, want 2", res.CountBefore)
	}

	count, _, err := store.Peek(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("count after denied call = %d, want 2 (deny must not increment)", count)
	}
}

func TestWindowExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewStore(nil).WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if _, err := store.CheckAndCount(ctx, "k", 3, 60); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	res, err := store.CheckAndCount(ctx, "k", 3, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected deny at limit")
	}

	// Advance past the window; the counter must reset
	now = now.Add(61 * time.Second)

	res, err = store.CheckAndCount(ctx, "k", 3, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed || res.CountBefore != 0 {
		t.Errorf("call after expiry = %+v, want fresh window", res)
	}
}

func TestTTLNotRefreshedByLaterIncrements(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewStore(nil).WithClock(func() time.Time { return now })

	if _, err := store.CheckAndCount(ctx, "k", 10, 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(30 * time.Second)

	res, err := store.CheckAndCount(ctx, "k", 10, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TTLSeconds != 30 {
		t.Errorf("ttl after half the window = %d, want 30 (expiry must not slide)", res.TTLSeconds)
	}
}

func TestConcurrentCheckAndCount(t *testing.T) {
	const (
		n     = 1000
		limit = 10
	)

	ctx := context.Background()
	store := NewStore(nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.CheckAndCount(ctx, "shared", limit, 60)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed = %d, want exactly %d", allowed, limit)
	}

	count, _, err := store.Peek(ctx, "shared")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != limit {
		t.Errorf("final count = %d, want %d (no lost or double-counted increments)", count, limit)
	}
}

func TestPeekIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	if _, err := store.CheckAndCount(ctx, "k", 5, 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 100; i++ {
		if _, _, err := store.Peek(ctx, "k"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	count, _, err := store.Peek(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("count after 100 peeks = %d, want 1", count)
	}
}

func TestPeekMissingKey(t *testing.T) {
	store := NewStore(nil)

	count, ttl, err := store.Peek(context.Background(), "absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 || ttl != -1 {
		t.Errorf("Peek(absent) = (%d, %d), want (0, -1)", count, ttl)
	}
}

func TestDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	keys := []string{
		"rate_limit:u1:authentication:minute",
		"rate_limit:u1:authentication:hour",
		"rate_limit:u1:api_calls:minute",
		"rate_limit:u2:authentication:minute",
	}
	for _, k := range keys {
		if _, err := store.CheckAndCount(ctx, k, 10, 60); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	removed, err := store.DeleteByPattern(ctx, "rate_limit:u1:authentication:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	// Unrelated keys survive
	count, _, err := store.Peek(ctx, "rate_limit:u2:authentication:minute")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("unrelated key count = %d, want 1", count)
	}
}

func TestHashExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewStore(nil).WithClock(func() time.Time { return now })

	err := store.HashSetAll(ctx, "adaptive:u:api_calls", map[string]string{"minute": "1.5"}, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fields, err := store.HashGetAll(ctx, "adaptive:u:api_calls")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fields["minute"] != "1.5" {
		t.Errorf("fields = %v, want minute=1.5", fields)
	}

	now = now.Add(2 * time.Hour)

	fields, err = store.HashGetAll(ctx, "adaptive:u:api_calls")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 0 {
		t.Errorf("expired hash returned %v, want empty", fields)
	}
}

func TestCancelledContext(t *testing.T) {
	store := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.CheckAndCount(ctx, "k", 1, 60); err == nil {
		t.Error("expected error for cancelled context")
	}
}
