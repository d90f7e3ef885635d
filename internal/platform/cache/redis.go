// Package cache holds the Redis client constructor and the versioned JSON
// cache used for read-heavy billing aggregates.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Option adjusts the client options before the connection is checked.
type Option func(*redis.Options)

// WithPassword authenticates with password when it is not empty.
func WithPassword(password string) Option {
	return func(o *redis.Options) {
		if password != "" {
			o.Password = password
		}
	}
}

// WithDB selects a logical database.
func WithDB(db int) Option {
	return func(o *redis.Options) { o.DB = db }
}

// New connects to addr and pings it. The client is closed when the ping
// fails.
func New(ctx context.Context, addr string, opts ...Option) (*redis.Client, error) {
	options := &redis.Options{Addr: addr}
	for _, opt := range opts {
		opt(options)
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}
	return client, nil
}
