// Package redisx wraps the Redis client roles the gateway needs: a
// general command client (GET/SET/pipelines), a dedicated client per
// stream consumer for blocking XREADGROUP calls, and a dedicated
// subscriber client for Pub/Sub. Blocking calls must never share a
// connection with non-blocking command traffic, so each role gets its
// own *redis.Client built from the same pool configuration.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration, shared by every client role.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func newClient(cfg Config, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.addr(),
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:        poolSize,
		MinIdleConns:    5,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})
}

// Client is the general-purpose command client: snapshot caching,
// the upstream subscription streams, and the catalyst
// recorder's pipelined list writes.
type Client struct {
	*redis.Client
}

// NewClient builds the general-purpose command client and pings it.
func NewClient(cfg Config) (*Client, error) {
	c := newClient(cfg, 25)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisx: ping failed: %w", err)
	}

	return &Client{Client: c}, nil
}

// NewStreamClient builds a client dedicated to one stream consumer's
// blocking XREADGROUP loop. A pool size of 2 covers the blocking read
// plus the occasional XACK/XCLAIM issued from the same goroutine.
func NewStreamClient(cfg Config) (*redis.Client, error) {
	c := newClient(cfg, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisx: stream client ping failed: %w", err)
	}

	return c, nil
}

// NewSubscriberClient builds a client dedicated to Pub/Sub. It issues
// no other Redis commands once subscribed.
func NewSubscriberClient(cfg Config) (*redis.Client, error) {
	c := newClient(cfg, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisx: subscriber client ping failed: %w", err)
	}

	return c, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}
