package arb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuoteProvider struct {
	mu        sync.Mutex
	outAmount uint64
}

func (f *fakeQuoteProvider) GetQuote(_ context.Context, _, _ solana.PublicKey, amount uint64, _ int, _ bool, _ Strategy, _ []string) (*QuoteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = amount
	return &QuoteResponse{OutAmount: uintToString(f.outAmount)}, nil
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	digits := []byte{}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

type fakeFinderMetrics struct {
	mu     sync.Mutex
	found  int
	misses int
	errors int
}

func (m *fakeFinderMetrics) RecordOpportunityFound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.found++
}
func (m *fakeFinderMetrics) RecordQuoteError(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}
func (m *fakeFinderMetrics) RecordQuoteMiss(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func testAssets() map[string]Asset {
	return map[string]Asset{
		"SOL":  {Mint: solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"), Decimals: 9, Symbol: "SOL"},
		"USDC": {Mint: solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"), Decimals: 6, Symbol: "USDC"},
	}
}

func TestFinder_EmitsOpportunityAboveProfitFloor(t *testing.T) {
	cfg := config.FinderConfig{
		WorkerCount:       1,
		QueryIntervalMs:   5,
		InputAssets:       []string{"SOL"},
		BridgeAssets:      []string{"USDC"},
		MinProfitLamports: 100,
		QuoteSizeLamports: 1_000_000_000,
	}
	provider := &fakeQuoteProvider{outAmount: 1_000_000_500}
	metrics := &fakeFinderMetrics{}

	finder, err := NewFinder(cfg, provider, metrics, testAssets(), logger.New("test"))
	require.NoError(t, err)

	received := make(chan Opportunity, 4)
	require.NoError(t, finder.Start(func(o Opportunity) { received <- o }))
	defer finder.Stop()

	select {
	case opp := <-received:
		assert.True(t, opp.OutputAsset.Equal(opp.InputAsset))
		assert.GreaterOrEqual(t, opp.Profit, int64(100))
	case <-time.After(2 * time.Second):
		t.Fatal("expected an opportunity to be emitted")
	}

	assert.GreaterOrEqual(t, metrics.found, 1)
}

func TestFinder_SuppressesBelowProfitFloor(t *testing.T) {
	cfg := config.FinderConfig{
		WorkerCount:       1,
		QueryIntervalMs:   5,
		InputAssets:       []string{"SOL"},
		BridgeAssets:      []string{"USDC"},
		MinProfitLamports: 1_000_000,
		QuoteSizeLamports: 1_000_000_000,
	}
	provider := &fakeQuoteProvider{outAmount: 1_000_000_010}
	metrics := &fakeFinderMetrics{}

	finder, err := NewFinder(cfg, provider, metrics, testAssets(), logger.New("test"))
	require.NoError(t, err)

	received := make(chan Opportunity, 4)
	require.NoError(t, finder.Start(func(o Opportunity) { received <- o }))
	defer finder.Stop()

	select {
	case opp := <-received:
		t.Fatalf("did not expect an opportunity, got %+v", opp)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFinder_RejectsEmptyPairSet(t *testing.T) {
	cfg := config.FinderConfig{WorkerCount: 1, InputAssets: []string{"SOL"}, BridgeAssets: []string{"SOL"}}
	_, err := NewFinder(cfg, &fakeQuoteProvider{}, &fakeFinderMetrics{}, testAssets(), logger.New("test"))
	require.Error(t, err)
}

func TestFinder_StopIsIdempotentAndDrainsWorkers(t *testing.T) {
	cfg := config.FinderConfig{
		WorkerCount:       2,
		QueryIntervalMs:   5,
		InputAssets:       []string{"SOL"},
		BridgeAssets:      []string{"USDC"},
		MinProfitLamports: 0,
		QuoteSizeLamports: 1_000_000_000,
	}
	provider := &fakeQuoteProvider{outAmount: 1_000_000_000}
	finder, err := NewFinder(cfg, provider, &fakeFinderMetrics{}, testAssets(), logger.New("test"))
	require.NoError(t, err)
	require.NoError(t, finder.Start(func(Opportunity) {}))
	time.Sleep(20 * time.Millisecond)
	finder.Stop()
	finder.Stop() // must not panic or block
}
