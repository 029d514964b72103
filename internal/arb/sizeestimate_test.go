package arb

import (
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
)

func instructionWithAccounts(n, dataLen int) CompiledInstruction {
	refs := make([]AccountRef, n)
	for i := range refs {
		refs[i] = AccountRef{PublicKey: solana.NewWallet().PublicKey(), IsWritable: i%2 == 0}
	}
	return CompiledInstruction{
		ProgramID:   solana.NewWallet().PublicKey(),
		AccountRefs: refs,
		Data:        make([]byte, dataLen),
	}
}

func TestEstimateTransactionSize_WithinLimitsForTypicalDirectSwap(t *testing.T) {
	bundle := SwapInstructionBundle{
		MainInstructions: []CompiledInstruction{
			instructionWithAccounts(12, 40),
			instructionWithAccounts(12, 40),
		},
	}
	est := EstimateTransactionSize(bundle, 4)
	assert.True(t, est.FitsLimits(), "expected a modest direct-route bundle to fit: %+v", est)
	assert.Less(t, est.RawBytes, MaxRawTransactionBytes)
}

func TestEstimateTransactionSize_GrowsWithAccountCount(t *testing.T) {
	small := SwapInstructionBundle{MainInstructions: []CompiledInstruction{instructionWithAccounts(4, 20)}}
	large := SwapInstructionBundle{MainInstructions: []CompiledInstruction{instructionWithAccounts(20, 20)}}

	smallEst := EstimateTransactionSize(small, 2)
	largeEst := EstimateTransactionSize(large, 2)
	assert.Less(t, smallEst.RawBytes, largeEst.RawBytes)
}

func TestEstimateTransactionSize_GrowsWithALTCount(t *testing.T) {
	bundle := SwapInstructionBundle{MainInstructions: []CompiledInstruction{instructionWithAccounts(10, 20)}}

	fewALTs := EstimateTransactionSize(bundle, 1)
	manyALTs := EstimateTransactionSize(bundle, 10)
	assert.Less(t, fewALTs.RawBytes, manyALTs.RawBytes)
}

func TestEstimateTransactionSize_Base64ExceedsRawByExpansionFactor(t *testing.T) {
	bundle := SwapInstructionBundle{MainInstructions: []CompiledInstruction{instructionWithAccounts(6, 30)}}
	est := EstimateTransactionSize(bundle, 3)
	assert.Greater(t, est.Base64Bytes, est.RawBytes)
}

func TestEstimateTransactionSize_ExceedsLimitsForLargeMultiHopBundle(t *testing.T) {
	bundle := SwapInstructionBundle{
		SetupInstructions: []CompiledInstruction{instructionWithAccounts(20, 50)},
		MainInstructions: []CompiledInstruction{
			instructionWithAccounts(20, 200),
			instructionWithAccounts(20, 200),
			instructionWithAccounts(20, 200),
		},
		CleanupInstructions: []CompiledInstruction{instructionWithAccounts(20, 50)},
	}
	est := EstimateTransactionSize(bundle, 20)
	assert.False(t, est.FitsLimits(), "expected an oversized multi-hop bundle to exceed limits: %+v", est)
}
