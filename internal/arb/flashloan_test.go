package arb

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlashLoanProvider struct {
	calls    int
	feeBps   int
	buildErr error
}

func (p *fakeFlashLoanProvider) BuildTemplate(_ context.Context, asset Asset, signer solana.PublicKey) (*FlashLoanTemplate, error) {
	p.calls++
	if p.buildErr != nil {
		return nil, p.buildErr
	}
	borrowData := make([]byte, 16)
	borrowData[0] = 1 // discriminator
	repayData := make([]byte, 16)
	repayData[0] = 2
	return &FlashLoanTemplate{
		Asset:              asset,
		Signer:             signer,
		BorrowProgramID:    solana.NewWallet().PublicKey(),
		BorrowAccounts:     []AccountRef{{PublicKey: solana.NewWallet().PublicKey(), IsWritable: true}},
		BorrowDataTemplate: borrowData,
		RepayProgramID:     solana.NewWallet().PublicKey(),
		RepayAccounts:      []AccountRef{{PublicKey: solana.NewWallet().PublicKey(), IsWritable: true}},
		RepayDataTemplate:  repayData,
	}, nil
}

func (p *fakeFlashLoanProvider) FeeBps() int { return p.feeBps }

func TestFlashLoanAdapter_CacheHitPatchesAmountWithoutRebuilding(t *testing.T) {
	provider := &fakeFlashLoanProvider{}
	adapter := NewFlashLoanAdapter(provider, config.FlashLoanConfig{TemplateTTL: "5m"}, logger.New("test"))

	asset := testAssets()["SOL"]
	signer := solana.NewWallet().PublicKey()

	borrow1, repay1, err := adapter.BuildInstructions(context.Background(), asset, signer, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(borrow1.Data[8:16]))
	assert.Equal(t, byte(1), borrow1.Data[0])
	assert.Equal(t, byte(2), repay1.Data[0])

	borrow2, _, err := adapter.BuildInstructions(context.Background(), asset, signer, 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), binary.LittleEndian.Uint64(borrow2.Data[8:16]))
	assert.Equal(t, 1, provider.calls, "second call should be a cache hit")
}

func TestFlashLoanAdapter_DifferentSignerIsSeparateCacheEntry(t *testing.T) {
	provider := &fakeFlashLoanProvider{}
	adapter := NewFlashLoanAdapter(provider, config.FlashLoanConfig{}, logger.New("test"))
	asset := testAssets()["SOL"]

	_, _, err := adapter.BuildInstructions(context.Background(), asset, solana.NewWallet().PublicKey(), 1_000)
	require.NoError(t, err)
	_, _, err = adapter.BuildInstructions(context.Background(), asset, solana.NewWallet().PublicKey(), 1_000)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestFlashLoanAdapter_FlushDiscardsCache(t *testing.T) {
	provider := &fakeFlashLoanProvider{}
	adapter := NewFlashLoanAdapter(provider, config.FlashLoanConfig{}, logger.New("test"))
	asset := testAssets()["SOL"]
	signer := solana.NewWallet().PublicKey()

	_, _, err := adapter.BuildInstructions(context.Background(), asset, signer, 1_000)
	require.NoError(t, err)
	adapter.FlushOnVersionChange()
	_, _, err = adapter.BuildInstructions(context.Background(), asset, signer, 1_000)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestFlashLoanAdapter_PreheatWarmsCacheForEachAsset(t *testing.T) {
	provider := &fakeFlashLoanProvider{}
	adapter := NewFlashLoanAdapter(provider, config.FlashLoanConfig{}, logger.New("test"))
	signer := solana.NewWallet().PublicKey()
	assets := testAssets()

	adapter.Preheat(context.Background(), []Asset{assets["SOL"], assets["USDC"]}, signer)
	assert.Equal(t, 2, provider.calls)

	_, _, err := adapter.BuildInstructions(context.Background(), assets["SOL"], signer, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls, "preheated asset should now be a cache hit")
}

func TestFlashLoanAdapter_FeeBpsDelegatesToProvider(t *testing.T) {
	adapter := NewFlashLoanAdapter(&fakeFlashLoanProvider{feeBps: 9}, config.FlashLoanConfig{}, logger.New("test"))
	assert.Equal(t, 9, adapter.FeeBps())
}
