package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pumpfun-candles/internal/observability"
)

// Client wraps redis.Client for dependency injection.
type Client struct {
	*goredis.Client
}

// NewClient creates a new Redis client and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{Client: rdb}, nil
}

// Close closes the client.
func (c *Client) Close() error {
	return c.Client.Close()
}

// observe records command latency and errors for operation.
func observe(operation string, start time.Time, err *error) {
	observability.RecordDBQuery("redis", operation, time.Since(start).Seconds(), *err)
}
