package arb

import (
	"testing"

	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallAssembled() *AssembledTransaction {
	return &AssembledTransaction{
		StrategyName:      "constrained",
		BorrowInstruction: instructionWithAccounts(4, 16),
		RepayInstruction:  instructionWithAccounts(4, 16),
		OutboundBundle: SwapInstructionBundle{
			SetupInstructions: []CompiledInstruction{instructionWithAccounts(2, 10)},
			MainInstructions:  []CompiledInstruction{instructionWithAccounts(8, 40)},
		},
		ReturnBundle: SwapInstructionBundle{
			MainInstructions:    []CompiledInstruction{instructionWithAccounts(8, 40)},
			CleanupInstructions: []CompiledInstruction{instructionWithAccounts(2, 10)},
		},
		LookupTableAddresses: []solana.PublicKey{solana.NewWallet().PublicKey()},
	}
}

func TestBuilder_BuildPartitionsIntoTwoTransactions(t *testing.T) {
	builder := NewBuilder(logger.New("test"))
	bundle, err := builder.Build(smallAssembled())
	require.NoError(t, err)

	// TX1: borrow + compute-budget(0) + leg-1 setup + leg-1 swap = 1+1+1 = 3
	assert.Len(t, bundle.TX1.Instructions, 3)
	// TX2: leg-2 swap + leg-2 cleanup + repay = 1+1+1 = 3
	assert.Len(t, bundle.TX2.Instructions, 3)
	assert.True(t, bundle.TX1.Estimate.FitsLimits())
	assert.True(t, bundle.TX2.Estimate.FitsLimits())
}

func TestBuilder_RejectsWhenEitherHalfExceedsRawLimit(t *testing.T) {
	builder := NewBuilder(logger.New("test"))
	assembled := smallAssembled()
	oversized := make([]CompiledInstruction, 0, 10)
	for i := 0; i < 10; i++ {
		oversized = append(oversized, instructionWithAccounts(20, 300))
	}
	assembled.OutboundBundle.MainInstructions = oversized

	_, err := builder.Build(assembled)
	require.Error(t, err)
}

func TestRevalidateEconomics_DoublesBaseFeeComponent(t *testing.T) {
	v := NewValidator(testEconomicsConfig(), testFlashLoanConfig(), logger.New("test"))
	single := v.Validate(10_000_000, 10_100_000)
	doubled := RevalidateEconomics(v, 10_000_000, 10_100_000)

	assert.Equal(t, single.Breakdown.GrossProfit, doubled.Breakdown.GrossProfit)
	assert.Greater(t, doubled.Breakdown.FixedCost, single.Breakdown.FixedCost)
}
