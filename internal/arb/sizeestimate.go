package arb

import "math"

const (
	sizeFixedHeaderBytes       = 100
	sizeSignaturePrefixBytes   = 68
	sizeComputeBudgetBytes     = 2 * 15
	sizeFlashLoanBaseBytes     = 30
	sizeFlashLoanIndexBytes    = 14 * 1
	sizeFlashLoanDataBytes     = 100
	sizeALTRefBytes            = 35
	sizeVersionedOverheadBytes = 50
	sizeSafetyMarginPct        = 0.05
	sizeBase64Expansion        = 1.333

	// MaxRawTransactionBytes and MaxBase64TransactionBytes are the hard
	// wire limits a compiled transaction must clear regardless of
	// strategy (§4.3).
	MaxRawTransactionBytes    = 1232
	MaxBase64TransactionBytes = 1644

	accountCompressedFraction   = 0.85
	accountUncompressedFraction = 0.15
	accountCompressedBytes      = 1
	accountUncompressedBytes    = 32
	accountWritableFlagBytes    = 1
)

// SizeEstimate is the projected serialized size of a compiled transaction,
// before and after base64 expansion for block-engine submission.
type SizeEstimate struct {
	RawBytes    int
	Base64Bytes int
}

// FitsLimits reports whether the estimate clears both hard wire limits.
func (e SizeEstimate) FitsLimits() bool {
	return e.RawBytes <= MaxRawTransactionBytes && e.Base64Bytes <= MaxBase64TransactionBytes
}

// instructionBytes estimates the serialized cost of one compiled
// instruction: a 1-byte programId index, its account references (85%
// assumed compressible to an ALT index, 15% uncompressed as a raw 32-byte
// pubkey), a 1-byte is_writable flag per account, a half-byte-per-account
// array length overhead, and its raw instruction data.
func instructionBytes(ix CompiledInstruction) float64 {
	n := float64(len(ix.AccountRefs))
	accountBytes := n*accountCompressedFraction*accountCompressedBytes + n*accountUncompressedFraction*accountUncompressedBytes
	writableBytes := n * accountWritableFlagBytes
	arrayOverhead := math.Ceil(n * 0.5)
	return 1 /* programId index */ + accountBytes + writableBytes + arrayOverhead + float64(len(ix.Data))
}

// EstimateTransactionSize sums the byte accounting in §4.3 for a compiled
// swap bundle plus a flash-loan borrow/repay pair, given the number of
// distinct ALT addresses referenced.
func EstimateTransactionSize(bundle SwapInstructionBundle, altAddressCount int) SizeEstimate {
	total := float64(sizeFixedHeaderBytes) +
		float64(sizeSignaturePrefixBytes) +
		float64(sizeComputeBudgetBytes) +
		float64(sizeFlashLoanBaseBytes+sizeFlashLoanIndexBytes+sizeFlashLoanDataBytes)

	for _, ix := range bundle.SetupInstructions {
		total += instructionBytes(ix)
	}
	for _, ix := range bundle.MainInstructions {
		total += instructionBytes(ix)
	}
	for _, ix := range bundle.CleanupInstructions {
		total += instructionBytes(ix)
	}

	total += float64(altAddressCount * sizeALTRefBytes)
	total += float64(sizeVersionedOverheadBytes)

	raw := total * (1 + sizeSafetyMarginPct)
	base64 := raw * sizeBase64Expansion

	return SizeEstimate{
		RawBytes:    int(math.Ceil(raw)),
		Base64Bytes: int(math.Ceil(base64)),
	}
}
