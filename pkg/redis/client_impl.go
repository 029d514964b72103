package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	goredis "github.com/go-redis/redis/v8"
)

// redisClient implements Client over go-redis's UniversalClient, which
// transparently covers both the single-instance and cluster cases.
type redisClient struct {
	client goredis.UniversalClient
}

// NewClient dials Redis and verifies connectivity before returning.
func NewClient(cfg *Config) (Client, error) {
	addrs := cfg.Addresses
	if len(addrs) == 0 && cfg.Host != "" {
		addrs = []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}
	}
	if len(addrs) == 0 {
		addrs = []string{"localhost:6379"}
	}

	var client goredis.UniversalClient
	if cfg.EnableCluster {
		client = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        addrs,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
		})
	} else {
		client = goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:        addrs,
			DB:           cfg.DB,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &redisClient{client: client}, nil
}

func (c *redisClient) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *redisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *redisClient) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

func (c *redisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.client.Expire(ctx, key, expiration).Err()
}

func (c *redisClient) Close() error { return c.client.Close() }

func (c *redisClient) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// NewClientFromConfig adapts the declarative config surface's RedisConfig
// section into a connected Client.
func NewClientFromConfig(cfg *config.RedisConfig) (Client, error) {
	redisCfg := &Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Password:      cfg.Password,
		DB:            cfg.DB,
		PoolSize:      cfg.PoolSize,
		MinIdleConns:  cfg.MinIdleConns,
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		MaxRetries:    cfg.MaxRetries,
		EnableCluster: cfg.EnableCluster,
	}
	if len(cfg.Addresses) > 0 {
		redisCfg.Addresses = append([]string(nil), cfg.Addresses...)
	}
	return NewClient(redisCfg)
}
