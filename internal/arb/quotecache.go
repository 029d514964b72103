package arb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solredis "github.com/flashroute/solarb/pkg/redis"
	goredis "github.com/go-redis/redis/v8"
	solana "github.com/gagliardetto/solana-go"
)

// QuoteCache is the Assembly Engine's shared quote cache (spec §3, §4.3 and
// §5's ownership note: "Quote cache entries are owned by the assembly
// engine and evicted by TTL"). It sits in front of the aggregator so a
// strategy re-quoting the same (input, output, amount) within the TTL
// window skips the outbound HTTP round-trip entirely. The strategy name is
// part of the key: two strategies constrain the aggregator differently
// (max accounts, direct-routes-only), so a quote fetched under one
// strategy's constraints must never satisfy a lookup under another's.
type QuoteCache struct {
	client solredis.Client
	logger *logger.Logger
	ttl    time.Duration
	prefix string
}

// NewQuoteCache builds a quote cache over the given Redis client. ttl of
// zero defaults to 2 seconds, matching the volatility of on-chain pricing.
func NewQuoteCache(client solredis.Client, ttl time.Duration, log *logger.Logger) *QuoteCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &QuoteCache{
		client: client,
		logger: log.Named("quote-cache"),
		ttl:    ttl,
		prefix: "solarb:quote:",
	}
}

// NewQuoteCacheFromConfig connects to Redis using the application's shared
// RedisConfig section and wraps it as a QuoteCache.
func NewQuoteCacheFromConfig(cfg *config.RedisConfig, ttl time.Duration, log *logger.Logger) (*QuoteCache, error) {
	client, err := solredis.NewClientFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("quote cache: connect redis: %w", err)
	}
	return NewQuoteCache(client, ttl, log), nil
}

func (c *QuoteCache) key(inputMint, outputMint solana.PublicKey, amount uint64, strategyName string) string {
	return fmt.Sprintf("%s%s:%s:%d:%s", c.prefix, inputMint, outputMint, amount, strategyName)
}

// Get returns the cached aggregator quote for (inputMint, outputMint,
// amount) under strategyName, or ok=false on a miss, a corrupt payload, or
// any Redis error — the cache is an accelerator, never a dependency for
// correctness, so every failure mode just falls through to a live quote.
func (c *QuoteCache) Get(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, strategyName string) (*QuoteResponse, bool) {
	raw, err := c.client.Get(ctx, c.key(inputMint, outputMint, amount, strategyName))
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Debug(fmt.Sprintf("quote cache get failed: %v", err))
		}
		return nil, false
	}

	var q QuoteResponse
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		c.logger.Debug(fmt.Sprintf("quote cache payload corrupt: %v", err))
		return nil, false
	}
	return &q, true
}

// Put stores a quote result for reuse by any worker sharing this Redis
// instance within the TTL window. Failures are logged and swallowed.
func (c *QuoteCache) Put(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, strategyName string, quote *QuoteResponse) {
	if quote == nil || len(quote.raw) == 0 {
		return
	}
	if err := c.client.Set(ctx, c.key(inputMint, outputMint, amount, strategyName), string(quote.raw), c.ttl); err != nil {
		c.logger.Debug(fmt.Sprintf("quote cache put failed: %v", err))
	}
}
