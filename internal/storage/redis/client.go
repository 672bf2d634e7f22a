package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientAdapter adapts a go-redis client to the Client interface
type ClientAdapter struct {
	client redis.UniversalClient
}

// NewClientAdapter creates a new client adapter
func NewClientAdapter(client redis.UniversalClient) *ClientAdapter {
	return &ClientAdapter{client: client}
}

// Eval executes a Lua script
func (c *ClientAdapter) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return c.client.Eval(ctx, script, keys, args...).Result()
}

// Get reads a string key. The second return value is false when the key is absent.
func (c *ClientAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// TTL returns the remaining lifetime of a key
func (c *ClientAdapter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.client.TTL(ctx, key).Result()
}

// Scan iterates keys matching a glob pattern
func (c *ClientAdapter) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return c.client.Scan(ctx, cursor, match, count).Result()
}

// Del deletes keys and returns how many existed
func (c *ClientAdapter) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.client.Del(ctx, keys...).Result()
}

// HSet writes hash fields
func (c *ClientAdapter) HSet(ctx context.Context, key string, fields map[string]string) error {
	return c.client.HSet(ctx, key, fields).Err()
}

// HGetAll reads all hash fields
func (c *ClientAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.client.HGetAll(ctx, key).Result()
}

// Expire sets a key's expiry
func (c *ClientAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

// Close closes the connection
func (c *ClientAdapter) Close() error {
	return c.client.Close()
}
