package redis

import (
	"context"
	"time"
)

// Config configures the Redis connection backing the quote cache
// (internal/arb.QuoteCache). Single-instance and cluster topologies are
// both supported since a production deployment of the cache is expected
// to run against a managed cluster, not a lone node.
type Config struct {
	Addresses    []string      // Redis server addresses (host:port)
	Host         string        // Redis host (for a single instance)
	Port         int           // Redis port (for a single instance)
	Password     string        // Redis password
	DB           int           // Redis database
	PoolSize     int           // Connection pool size
	MinIdleConns int           // Minimum number of idle connections
	DialTimeout  time.Duration // Dial timeout
	ReadTimeout  time.Duration // Read timeout
	WriteTimeout time.Duration // Write timeout
	MaxRetries   int           // Maximum number of retries
	EnableCluster bool         // Whether to use a Redis cluster client
}

// Client is the narrow key-value surface the quote cache needs: get, set
// with a TTL, explicit eviction, and expiry refresh. No hash operations or
// pipelining are exposed — nothing in this module issues them, and adding
// them back would just be unexercised surface.
type Client interface {
	// Get reads a value. Returns redis.Nil (re-exported by go-redis) on miss.
	Get(ctx context.Context, key string) (string, error)

	// Set writes a value with the given expiration.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// Del removes keys.
	Del(ctx context.Context, keys ...string) error

	// Expire refreshes a key's TTL without rewriting its value.
	Expire(ctx context.Context, key string, expiration time.Duration) error

	// Close releases the underlying connection pool.
	Close() error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}
