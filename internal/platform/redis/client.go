package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client wraps the go-redis client. The reaper job uses it as a
// best-effort distributed lock; nothing else depends on Redis.
type Client struct {
	*redis.Client
}

// New creates a Redis client from a URL. Returns nil if the URL is
// empty (Redis not configured); callers treat a nil client as "no
// lock available, proceed alone".
func New(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{Client: client}, nil
}
