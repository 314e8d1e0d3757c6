// Package redis fans breaker transitions out to other processes.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "resilience:breaker"

// Client wraps the Redis connection used for breaker transitions.
type Client struct {
	rdb     *redis.Client
	channel string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Channel  string `yaml:"channel"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg.Channel), nil
}

func newClient(rdb *redis.Client, channel string) *Client {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Client{rdb: rdb, channel: channel}
}

// Channel returns the pub/sub channel name.
func (c *Client) Channel() string {
	return c.channel
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
