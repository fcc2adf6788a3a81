package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by GetJSON when the key does not exist.
var ErrNotFound = errors.New("redisx: key not found")

// GetJSON retrieves a key and unmarshals its value into target.
func (c *Client) GetJSON(ctx context.Context, key string, target interface{}) error {
	val, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redisx: get %s: %w", key, err)
	}
	return json.Unmarshal([]byte(val), target)
}

// SetJSON marshals value and stores it with the given TTL (0 = no expiry).
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redisx: marshal %s: %w", key, err)
	}
	if err := c.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redisx: set %s: %w", key, err)
	}
	return nil
}

// GetString reads a key as a plain string, returning ErrNotFound when absent.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	val, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redisx: get %s: %w", key, err)
	}
	return val, nil
}

// GetInt64 reads a key as an integer, defaulting to 0 when absent.
func (c *Client) GetInt64(ctx context.Context, key string) (int64, error) {
	val, err := c.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redisx: get %s: %w", key, err)
	}
	return val, nil
}

// PushCapped LPUSHes value onto key, trims to maxLen entries, and sets ttl,
// all in one pipelined round-trip. Grounded on spec.md §4.9's "use a
// pipelined batch" instruction for the catalyst recorder.
func (c *Client) PushCapped(ctx context.Context, key string, value interface{}, maxLen int64, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redisx: marshal %s: %w", key, err)
	}

	pipe := c.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisx: pipeline %s: %w", key, err)
	}
	return nil
}
