package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ClientConfig holds the connection settings for the Redis session backend.
type ClientConfig struct {
	// Addrs lists one address for a single node or several for a cluster.
	Addrs    []string
	Username string
	Password string
	DB       int

	// ConnectRetryTimeout bounds how long NewClient retries the initial ping.
	// Default: 30 seconds
	ConnectRetryTimeout time.Duration
}

// Validate checks that the client configuration is valid.
func (c *ClientConfig) Validate() error {
	if len(c.Addrs) == 0 {
		return fmt.Errorf("at least one redis address is required")
	}
	return nil
}

// NewClient creates a Redis client and waits for it to answer a PING.
func NewClient(ctx context.Context, cfg ClientConfig) (goredis.UniversalClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	if cfg.ConnectRetryTimeout == 0 {
		cfg.ConnectRetryTimeout = 30 * time.Second
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	_, err := backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(cfg.ConnectRetryTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("Redis not reachable, retrying")
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, mapRedisError("ping redis", err)
	}

	return client, nil
}

// StoreConfig controls key layout and per-operation limits of SessionStore.
type StoreConfig struct {
	// Prefix namespaces every key. It is wrapped in a hash tag so all keys of
	// one deployment live in the same cluster slot.
	// Default: "sessiond"
	Prefix string

	// QueryTimeout bounds every command issued by the store.
	// Default: 5 seconds
	QueryTimeout time.Duration

	// ReapBatchSize is the number of expired sessions removed per script call.
	// Default: 500
	ReapBatchSize int
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *StoreConfig) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "sessiond"
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
	if c.ReapBatchSize <= 0 {
		c.ReapBatchSize = 500
	}
}
