package arb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func computeBudgetInstruction(discriminator byte, value uint64) CompiledInstruction {
	switch discriminator {
	case computeBudgetDiscriminatorLimit:
		data := make([]byte, 5)
		data[0] = discriminator
		binary.LittleEndian.PutUint32(data[1:5], uint32(value))
		return CompiledInstruction{ProgramID: computeBudgetProgramID, Data: data}
	default:
		data := make([]byte, 9)
		data[0] = discriminator
		binary.LittleEndian.PutUint64(data[1:9], value)
		return CompiledInstruction{ProgramID: computeBudgetProgramID, Data: data}
	}
}

func TestMergeComputeBudget_TakesMaxOfEachKind(t *testing.T) {
	merged := mergeComputeBudget([]CompiledInstruction{
		computeBudgetInstruction(computeBudgetDiscriminatorLimit, 200000),
		computeBudgetInstruction(computeBudgetDiscriminatorPrice, 1000),
		computeBudgetInstruction(computeBudgetDiscriminatorLimit, 300000),
		computeBudgetInstruction(computeBudgetDiscriminatorPrice, 500),
	})
	require.Len(t, merged, 2)
	assert.Equal(t, uint32(300000), binary.LittleEndian.Uint32(merged[0].Data[1:5]))
	assert.Equal(t, uint64(1000), binary.LittleEndian.Uint64(merged[1].Data[1:9]))
}

func TestDedupeALTs_PreservesFirstSeenOrder(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	out := dedupeALTs([]solana.PublicKey{a, b}, []solana.PublicKey{b, a})
	assert.Equal(t, []solana.PublicKey{a, b}, out)
}

type fakeSwapSource struct {
	outAmountForStrategy map[string]uint64
	accountsPerHop       int

	mu         sync.Mutex
	quoteCalls int
}

func (f *fakeSwapSource) GetQuote(_ context.Context, inputMint, outputMint solana.PublicKey, amount uint64, _ int, _ bool, strat Strategy, _ []string) (*QuoteResponse, error) {
	f.mu.Lock()
	f.quoteCalls++
	f.mu.Unlock()

	out := f.outAmountForStrategy[strat.Name]
	resp := &QuoteResponse{
		OutAmount:    uintToString(out),
		RoutePlanRaw: []routePlanStepWire{{SwapInfo: swapInfoWire{AmmKey: "pool", Label: "Raydium", InputMint: inputMint.String(), OutputMint: outputMint.String(), InAmount: uintToString(amount), OutAmount: uintToString(out)}}},
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	resp.raw = raw
	return resp, nil
}

func (f *fakeSwapSource) QuoteCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls
}

func (f *fakeSwapSource) GetSwapInstructions(_ context.Context, quote *QuoteResponse, _ solana.PublicKey) (*SwapInstructionBundle, error) {
	refs := make([]AccountRef, f.accountsPerHop)
	return &SwapInstructionBundle{
		MainInstructions: []CompiledInstruction{{ProgramID: solana.NewWallet().PublicKey(), AccountRefs: refs, Data: make([]byte, 40)}},
		OutAmount:        quote.OutAmountUint64(),
	}, nil
}

type fakeFlashLoanSource struct {
	feeBps int
}

func (f *fakeFlashLoanSource) BuildInstructions(_ context.Context, _ Asset, signer solana.PublicKey, amount uint64) (CompiledInstruction, CompiledInstruction, error) {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[8:16], amount)
	borrow := CompiledInstruction{ProgramID: signer, Data: data}
	repay := CompiledInstruction{ProgramID: signer, Data: data}
	return borrow, repay, nil
}

func (f *fakeFlashLoanSource) FeeBps() int { return f.feeBps }

func testAssemblyOpportunity() Opportunity {
	sol := testAssets()["SOL"]
	usdc := testAssets()["USDC"]
	return Opportunity{
		InputAsset:   sol,
		BridgeAsset:  usdc,
		OutputAsset:  sol,
		InputAmount:  1_000_000_000,
		BridgeAmount: 100_000_000,
		Profit:       1_000_000,
	}
}

func TestEngine_AdoptsPrimaryStrategyWhenProfitableAndFits(t *testing.T) {
	aggregator := &fakeSwapSource{
		outAmountForStrategy: map[string]uint64{"liberal": 1_010_000_000},
		accountsPerHop:       6,
	}
	engine := NewEngine(aggregator, &fakeFlashLoanSource{}, AssemblyConfig{MaxDexesZeroFee: 5, MaxDexesPaidFee: 3, MaxAccounts: 10}, nil, logger.New("test"))

	result, err := engine.Assemble(context.Background(), testAssemblyOpportunity(), 1_000_000_000, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, "liberal", result.StrategyName)
	assert.True(t, result.Estimate.FitsLimits())
	assert.Greater(t, result.EstimatedProfit, int64(0))
}

func TestEngine_FallsBackToSecondaryStrategyWhenPrimaryUnprofitable(t *testing.T) {
	aggregator := &fakeSwapSource{
		outAmountForStrategy: map[string]uint64{
			"liberal":     999_000_000, // below borrow -> unprofitable
			"moderate":    1_005_000_000,
			"constrained": 1_002_000_000,
		},
		accountsPerHop: 6,
	}
	engine := NewEngine(aggregator, &fakeFlashLoanSource{}, AssemblyConfig{MaxDexesZeroFee: 5, MaxDexesPaidFee: 3, MaxAccounts: 10}, nil, logger.New("test"))

	result, err := engine.Assemble(context.Background(), testAssemblyOpportunity(), 1_000_000_000, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, "moderate", result.StrategyName)
}

func TestEngine_RejectsRoutesExceedingDexLimit(t *testing.T) {
	aggregator := &fakeSwapSource{
		outAmountForStrategy: map[string]uint64{"liberal": 1_010_000_000},
		accountsPerHop:       6,
	}
	engine := NewEngine(aggregator, &fakeFlashLoanSource{feeBps: 9}, AssemblyConfig{MaxDexesZeroFee: 5, MaxDexesPaidFee: 0, MaxAccounts: 10}, nil, logger.New("test"))

	_, err := engine.Assemble(context.Background(), testAssemblyOpportunity(), 1_000_000_000, solana.NewWallet().PublicKey())
	require.Error(t, err)
}

// TestEngine_ReusesWiredQuoteCacheAcrossAssembles exercises the §3/§4.3
// ownership contract: the Assembly Engine, not the Finder, owns the quote
// cache, and a second Assemble call for the same (mints, amount, strategy)
// must not re-hit the aggregator within the TTL window.
func TestEngine_ReusesWiredQuoteCacheAcrossAssembles(t *testing.T) {
	aggregator := &fakeSwapSource{
		outAmountForStrategy: map[string]uint64{"liberal": 1_010_000_000},
		accountsPerHop:       6,
	}
	cache := NewQuoteCache(newFakeRedisClient(), time.Minute, logger.New("test"))
	engine := NewEngine(aggregator, &fakeFlashLoanSource{}, AssemblyConfig{MaxDexesZeroFee: 5, MaxDexesPaidFee: 3, MaxAccounts: 10}, cache, logger.New("test"))

	opp := testAssemblyOpportunity()
	signer := solana.NewWallet().PublicKey()

	_, err := engine.Assemble(context.Background(), opp, 1_000_000_000, signer)
	require.NoError(t, err)
	firstCallCount := aggregator.QuoteCallCount()
	assert.Equal(t, 2, firstCallCount) // outbound + return leg, both live

	_, err = engine.Assemble(context.Background(), opp, 1_000_000_000, signer)
	require.NoError(t, err)
	assert.Equal(t, firstCallCount, aggregator.QuoteCallCount(), "second Assemble should be served entirely from the quote cache")
}
