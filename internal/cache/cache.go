package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is a Redis client that degrades to a permanent cache miss when Redis
// is unreachable. A nil *Client is valid and never stores anything.
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis-backed client. The connection is established lazily.
func New(addr, password string, db int) *Client {
	return NewFromRedis(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewFromRedis wraps an existing redis client.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) usable() bool {
	return c != nil && c.rdb != nil
}

// Ping reports whether Redis answers. It is used by the health endpoint only.
func (c *Client) Ping(ctx context.Context) error {
	if !c.usable() {
		return errors.New("cache disabled")
	}
	return c.rdb.Ping(ctx).Err()
}

// Get returns the stored value, or nil on a miss or when Redis is unavailable.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if !c.usable() {
		return nil, nil
	}
	res, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, nil
	}
	return res, nil
}

// Set stores value with TTL. Redis errors are dropped.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.usable() {
		return nil
	}
	_ = c.rdb.Set(ctx, key, value, ttl).Err()
	return nil
}

// Delete removes keys. Redis errors are dropped.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if !c.usable() || len(keys) == 0 {
		return nil
	}
	_ = c.rdb.Del(ctx, keys...).Err()
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	if !c.usable() {
		return nil
	}
	return c.rdb.Close()
}
