package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"throttle/internal/storage"
)

// mockClient implements the Client interface for testing
type mockClient struct {
	evalFunc    func(ctx context.Context, script string, keys []string, args ...any) (any, error)
	getFunc     func(ctx context.Context, key string) (string, bool, error)
	ttlFunc     func(ctx context.Context, key string) (time.Duration, error)
	scanFunc    func(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	delFunc     func(ctx context.Context, keys ...string) (int64, error)
	hsetFunc    func(ctx context.Context, key string, fields map[string]string) error
	hgetallFunc func(ctx context.Context, key string) (map[string]string, error)
	expireFunc  func(ctx context.Context, key string, ttl time.Duration) error
	closed      bool
}

func (m *mockClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	if m.evalFunc != nil {
		return m.evalFunc(ctx, script, keys, args...)
	}
	return []any{int64(1), int64(0), int64(60)}, nil
}

func (m *mockClient) Get(ctx context.Context, key string) (string, bool, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, key)
	}
	return "", false, nil
}

func (m *mockClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	if m.ttlFunc != nil {
		return m.ttlFunc(ctx, key)
	}
	return -1, nil
}

func (m *mockClient) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	if m.scanFunc != nil {
		return m.scanFunc(ctx, cursor, match, count)
	}
	return nil, 0, nil
}

func (m *mockClient) Del(ctx context.Context, keys ...string) (int64, error) {
	if m.delFunc != nil {
		return m.delFunc(ctx, keys...)
	}
	return int64(len(keys)), nil
}

func (m *mockClient) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFunc != nil {
		return m.hsetFunc(ctx, key, fields)
	}
	return nil
}

func (m *mockClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetallFunc != nil {
		return m.hgetallFunc(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if m.expireFunc != nil {
		return m.expireFunc(ctx, key, ttl)
	}
	return nil
}

func (m *mockClient) Close() error {
	m.closed = true
	return nil
}

func TestNewStore(t *testing.T) {
	t.Run("with nil config", func(t *testing.T) {
		store := NewStore(&mockClient{}, nil)

		if store == nil {
			t.Fatal("expected store to be created")
		}
		if store.config == nil {
			t.Fatal("expected default config to be used")
		}
		if store.script == "" {
			t.Fatal("expected Lua script to be set")
		}
	})

	t.Run("with custom config", func(t *testing.T) {
		config := &storage.Config{KeyPrefix: "test:", OpTimeout: time.Second}
		store := NewStore(&mockClient{}, config)

		if store.config != config {
			t.Error("expected custom config to be used")
		}
	})
}

func TestStore_CheckAndCount(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		evalResult  any
		evalErr     error
		wantAllowed bool
		wantBefore  int64
		wantTTL     int64
		wantErr     bool
	}{
		{
			name:        "request allowed",
			evalResult:  []any{int64(1), int64(4), int64(42)},
			wantAllowed: true,
			wantBefore:  4,
			wantTTL:     42,
		},
		{
			name:        "request denied",
			evalResult:  []any{int64(0), int64(10), int64(17)},
			wantAllowed: false,
			wantBefore:  10,
			wantTTL:     17,
		},
		{
			name:    "redis error",
			evalErr: errors.New("redis connection failed"),
			wantErr: true,
		},
		{
			name:       "invalid result type",
			evalResult: "invalid",
			wantErr:    true,
		},
		{
			name:       "truncated result",
			evalResult: []any{int64(1)},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{
				evalFunc: func(ctx context.Context, script string, keys []string, args ...any) (any, error) {
					return tt.evalResult, tt.evalErr
				},
			}
			store := NewStore(client, nil)

			result, err := store.CheckAndCount(ctx, "rate_limit:user1:api_calls:minute", 10, 60)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", result.Allowed, tt.wantAllowed)
			}
			if result.CountBefore != tt.wantBefore {
				t.Errorf("CountBefore = %d, want %d", result.CountBefore, tt.wantBefore)
			}
			if result.TTLSeconds != tt.wantTTL {
				t.Errorf("TTLSeconds = %d, want %d", result.TTLSeconds, tt.wantTTL)
			}
		})
	}

	t.Run("rejects non-positive limit", func(t *testing.T) {
		store := NewStore(&mockClient{}, nil)
		if _, err := store.CheckAndCount(ctx, "k", 0, 60); err == nil {
			t.Error("expected error for zero limit")
		}
	})

	t.Run("rejects non-positive window", func(t *testing.T) {
		store := NewStore(&mockClient{}, nil)
		if _, err := store.CheckAndCount(ctx, "k", 10, 0); err == nil {
			t.Error("expected error for zero window")
		}
	})
}

func TestStore_CheckAndCountUsesPrefixedKey(t *testing.T) {
	var gotKey string
	client := &mockClient{
		evalFunc: func(ctx context.Context, script string, keys []string, args ...any) (any, error) {
			gotKey = keys[0]
			return []any{int64(1), int64(0), int64(60)}, nil
		},
	}
	store := NewStore(client, &storage.Config{KeyPrefix: "throttle:", OpTimeout: time.Second})

	if _, err := store.CheckAndCount(context.Background(), "rate_limit:u:auth:minute", 5, 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "throttle:rate_limit:u:auth:minute"
	if gotKey != want {
		t.Errorf("key = %q, want %q", gotKey, want)
	}
}

func TestStore_Peek(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		store := NewStore(&mockClient{}, nil)

		count, ttl, err := store.Peek(ctx, "absent")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("count = %d, want 0", count)
		}
		if ttl != -1 {
			t.Errorf("ttl = %d, want -1", ttl)
		}
	})

	t.Run("existing key", func(t *testing.T) {
		client := &mockClient{
			getFunc: func(ctx context.Context, key string) (string, bool, error) {
				return "7", true, nil
			},
			ttlFunc: func(ctx context.Context, key string) (time.Duration, error) {
				return 33 * time.Second, nil
			},
		}
		store := NewStore(client, nil)

		count, ttl, err := store.Peek(ctx, "present")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 7 {
			t.Errorf("count = %d, want 7", count)
		}
		if ttl != 33 {
			t.Errorf("ttl = %d, want 33", ttl)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		client := &mockClient{
			getFunc: func(ctx context.Context, key string) (string, bool, error) {
				return "", false, errors.New("connection reset")
			},
		}
		store := NewStore(client, nil)

		if _, _, err := store.Peek(ctx, "k"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestStore_DeleteByPattern(t *testing.T) {
	t.Run("paginates through scan cursor", func(t *testing.T) {
		pages := map[uint64][]string{
			0: {"throttle:rate_limit:u:auth:minute", "throttle:rate_limit:u:auth:hour"},
			7: {"throttle:rate_limit:u:auth:day"},
		}
		cursors := map[uint64]uint64{0: 7, 7: 0}

		var deleted []string
		client := &mockClient{
			scanFunc: func(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
				return pages[cursor], cursors[cursor], nil
			},
			delFunc: func(ctx context.Context, keys ...string) (int64, error) {
				deleted = append(deleted, keys...)
				return int64(len(keys)), nil
			},
		}
		store := NewStore(client, nil)

		removed, err := store.DeleteByPattern(context.Background(), "rate_limit:u:auth:*")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if removed != 3 {
			t.Errorf("removed = %d, want 3", removed)
		}
		if len(deleted) != 3 {
			t.Errorf("deleted %d keys, want 3", len(deleted))
		}
	})

	t.Run("scan error", func(t *testing.T) {
		client := &mockClient{
			scanFunc: func(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
				return nil, 0, errors.New("scan failed")
			},
		}
		store := NewStore(client, nil)

		if _, err := store.DeleteByPattern(context.Background(), "*"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestStore_HashRoundTrip(t *testing.T) {
	var (
		gotFields map[string]string
		gotTTL    time.Duration
	)
	client := &mockClient{
		hsetFunc: func(ctx context.Context, key string, fields map[string]string) error {
			gotFields = fields
			return nil
		},
		expireFunc: func(ctx context.Context, key string, ttl time.Duration) error {
			gotTTL = ttl
			return nil
		},
		hgetallFunc: func(ctx context.Context, key string) (map[string]string, error) {
			return map[string]string{"minute": "1.5"}, nil
		},
	}
	store := NewStore(client, nil)
	ctx := context.Background()

	err := store.HashSetAll(ctx, "adaptive:u:api_calls", map[string]string{"minute": "1.5"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFields["minute"] != "1.5" {
		t.Errorf("fields = %v, want minute=1.5", gotFields)
	}
	if gotTTL != 24*time.Hour {
		t.Errorf("ttl = %v, want 24h", gotTTL)
	}

	fields, err := store.HashGetAll(ctx, "adaptive:u:api_calls")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fields["minute"] != "1.5" {
		t.Errorf("fields = %v, want minute=1.5", fields)
	}
}

func TestStore_Close(t *testing.T) {
	client := &mockClient{}
	store := NewStore(client, nil)

	if err := store.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !client.closed {
		t.Error("expected underlying client to be closed")
	}
}
