package arb

import (
	"context"
	"encoding/binary"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolFeeProvider_BuildTemplatePatchableAmount(t *testing.T) {
	asset := testAssets()["SOL"]
	reserve := solana.NewWallet().PublicKey()
	vault := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	programID := solana.NewWallet().PublicKey()

	provider := NewProtocolFeeProvider(programID, map[solana.PublicKey]solana.PublicKey{asset.Mint: reserve}, vault, authority, 9)
	assert.Equal(t, 9, provider.FeeBps())

	signer := solana.NewWallet().PublicKey()
	tmpl, err := provider.BuildTemplate(context.Background(), asset, signer)
	require.NoError(t, err)
	assert.Equal(t, programID, tmpl.BorrowProgramID)
	assert.Len(t, tmpl.BorrowDataTemplate, 16)
	assert.True(t, len(tmpl.BorrowAccounts) > 0)

	binary.LittleEndian.PutUint64(tmpl.BorrowDataTemplate[8:16], 42)
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(tmpl.BorrowDataTemplate[8:16]))
}

func TestProtocolFeeProvider_UnknownAssetErrors(t *testing.T) {
	provider := NewProtocolFeeProvider(solana.NewWallet().PublicKey(), map[solana.PublicKey]solana.PublicKey{}, solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 9)
	_, err := provider.BuildTemplate(context.Background(), testAssets()["SOL"], solana.NewWallet().PublicKey())
	assert.Error(t, err)
}

func TestZeroFeeProvider_BuildTemplateHasNoFee(t *testing.T) {
	asset := testAssets()["USDC"]
	reserve := solana.NewWallet().PublicKey()
	vault := solana.NewWallet().PublicKey()
	programID := solana.NewWallet().PublicKey()

	provider := NewZeroFeeProvider(programID, map[solana.PublicKey]solana.PublicKey{asset.Mint: reserve}, vault)
	assert.Equal(t, 0, provider.FeeBps())

	tmpl, err := provider.BuildTemplate(context.Background(), asset, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, programID, tmpl.RepayProgramID)
}

func TestZeroFeeProvider_UnknownAssetErrors(t *testing.T) {
	provider := NewZeroFeeProvider(solana.NewWallet().PublicKey(), map[solana.PublicKey]solana.PublicKey{}, solana.NewWallet().PublicKey())
	_, err := provider.BuildTemplate(context.Background(), testAssets()["USDC"], solana.NewWallet().PublicKey())
	assert.Error(t, err)
}
