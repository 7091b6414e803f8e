// Package redis builds the client backing the identify lock.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"reconcile/internal/platform/config"
)

// Client is a pinged go-redis client. It satisfies redis.Cmdable, so it can be
// handed straight to lock.NewRedisLocker.
type Client struct {
	*redis.Client
}

// New connects to cfg.URL. It returns a nil client and no error when no URL is
// configured, in which case identify calls are serialized by the store alone.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return &Client{Client: client}, nil
}

// Health pings the server; it backs the redis entry of /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
