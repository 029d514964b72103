package arb

import (
	"fmt"

	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
)

// Bundle is a two-transaction atomic pair sharing a single blockhash,
// used when the single-transaction path can't fit under the size limit
// (§4.5).
type Bundle struct {
	TX1                  BundleTransaction
	TX2                  BundleTransaction
	LookupTableAddresses []solana.PublicKey
}

// BundleTransaction is one half of a two-transaction bundle: the
// instructions to compile and its projected size.
type BundleTransaction struct {
	Instructions []CompiledInstruction
	Estimate     SizeEstimate
}

// Builder partitions an assembled transaction into the two-transaction
// fallback shape when the single-tx path doesn't fit.
type Builder struct {
	logger *logger.Logger
}

// NewBuilder constructs a bundle Builder.
func NewBuilder(log *logger.Logger) *Builder {
	return &Builder{logger: log.Named("bundle")}
}

// Build partitions the assembled transaction per §4.5:
// TX1 = borrow + merged compute-budget + leg-1 setup + leg-1 swap.
// TX2 = leg-2 swap + leg-2 cleanup + repay.
// Both serialized sizes must individually clear the raw size limit;
// otherwise the opportunity is rejected outright.
func (b *Builder) Build(a *AssembledTransaction) (*Bundle, error) {
	altCount := len(a.LookupTableAddresses)

	tx1Instructions := append(append([]CompiledInstruction{a.BorrowInstruction}, a.ComputeBudget...), a.OutboundBundle.SetupInstructions...)
	tx1Instructions = append(tx1Instructions, a.OutboundBundle.MainInstructions...)

	tx2Instructions := append(append([]CompiledInstruction{}, a.ReturnBundle.MainInstructions...), a.ReturnBundle.CleanupInstructions...)
	tx2Instructions = append(tx2Instructions, a.RepayInstruction)

	tx1Estimate := EstimateTransactionSize(SwapInstructionBundle{MainInstructions: tx1Instructions}, altCount)
	tx2Estimate := EstimateTransactionSize(SwapInstructionBundle{MainInstructions: tx2Instructions}, altCount)

	if tx1Estimate.RawBytes > MaxRawTransactionBytes {
		return nil, fmt.Errorf("bundle: tx1 estimated at %d bytes, exceeds raw limit %d", tx1Estimate.RawBytes, MaxRawTransactionBytes)
	}
	if tx2Estimate.RawBytes > MaxRawTransactionBytes {
		return nil, fmt.Errorf("bundle: tx2 estimated at %d bytes, exceeds raw limit %d", tx2Estimate.RawBytes, MaxRawTransactionBytes)
	}

	return &Bundle{
		TX1:                  BundleTransaction{Instructions: tx1Instructions, Estimate: tx1Estimate},
		TX2:                  BundleTransaction{Instructions: tx2Instructions, Estimate: tx2Estimate},
		LookupTableAddresses: a.LookupTableAddresses,
	}, nil
}

// RevalidateEconomics re-checks net profit against 2 × the per-signature
// base fee (two transactions, each paying it) instead of the
// single-transaction fixed cost the Validator otherwise assumes (§4.5).
// The already-estimated priority fee is reused rather than re-queried.
func RevalidateEconomics(v *Validator, borrowAmount, repricedOutput uint64) ValidationResult {
	doubled := *v
	doubled.economics.BaseFeeLamports = v.economics.BaseFeeLamports * 2
	return doubled.Validate(borrowAmount, repricedOutput)
}
