package arb

import (
	"math"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
)

// Validator decides whether a candidate opportunity clears realistic costs
// once a borrow size has been chosen, and picks that borrow size in the
// first place (§4.2).
type Validator struct {
	logger       *logger.Logger
	economics    config.EconomicsConfig
	flashLoan    config.FlashLoanConfig
	abnormalROI  float64
}

// NewValidator builds a Validator from the configured economics and
// flash-loan sections.
func NewValidator(economics config.EconomicsConfig, flashLoan config.FlashLoanConfig, log *logger.Logger) *Validator {
	threshold := economics.AbnormalROIThreshold
	if threshold <= 0 {
		threshold = 0.10
	}
	return &Validator{
		logger:      log.Named("validator"),
		economics:   economics,
		flashLoan:   flashLoan,
		abnormalROI: threshold,
	}
}

// IsAbnormalROI rejects opportunities whose query-time ROI exceeds the
// configured threshold (10% by default), treating them as aggregator data
// anomalies rather than genuine arbitrage.
func (v *Validator) IsAbnormalROI(opp Opportunity) bool {
	return opp.ROI() > v.abnormalROI
}

// BorrowSize applies the dynamic borrow-sizing policy: the observed profit
// rate at query size selects a multiplier over the input amount, a safety
// factor damps it, and the result is clamped to the configured bounds.
func (v *Validator) BorrowSize(opp Opportunity) uint64 {
	if opp.InputAmount == 0 {
		return v.flashLoan.MinBorrow
	}
	rate := float64(opp.Profit) / float64(opp.InputAmount)

	var multiplier float64
	switch {
	case rate > 0.01:
		multiplier = v.flashLoan.MaxMultiplier
	case rate > 0.005:
		multiplier = (v.flashLoan.MinMultiplier + v.flashLoan.MaxMultiplier) / 2
	case rate > 0.001:
		multiplier = v.flashLoan.MinMultiplier * 1.5
	default:
		multiplier = v.flashLoan.MinMultiplier
	}

	safety := v.flashLoan.SafetyFactor
	if safety <= 0 || safety > 1 {
		safety = 0.9
	}

	borrow := float64(opp.InputAmount) * multiplier * safety
	size := uint64(math.Max(borrow, 0))

	if v.flashLoan.MinBorrow > 0 && size < v.flashLoan.MinBorrow {
		size = v.flashLoan.MinBorrow
	}
	if v.flashLoan.MaxBorrow > 0 && size > v.flashLoan.MaxBorrow {
		size = v.flashLoan.MaxBorrow
	}
	return size
}

// Validate decomposes fees against a chosen borrow amount and re-priced
// output, following the six-step order in §4.2 exactly: any reordering
// changes which legs the tip and slippage buffer are computed against.
func (v *Validator) Validate(borrowAmount, repricedOutput uint64) ValidationResult {
	grossProfit := int64(repricedOutput) - int64(borrowAmount)

	fixedCost := int64(v.economics.BaseFeeLamports)*int64(v.economics.SignatureCount) + int64(v.economics.PriorityFeeLamports)

	netAfterFixed := grossProfit - fixedCost

	var tip int64
	if netAfterFixed > 0 {
		tip = int64(math.Floor(float64(netAfterFixed) * v.economics.TipPercent / 100))
	}

	slippageBuffer := minInt64(
		int64(float64(borrowAmount)*0.0003),
		int64(float64(grossProfit)*0.10),
		int64(float64(borrowAmount)*0.0002),
	)

	netProfit := netAfterFixed - tip - slippageBuffer

	breakdown := FeeBreakdown{
		GrossProfit:     grossProfit,
		FixedCost:       fixedCost,
		NetAfterFixed:   netAfterFixed,
		Tip:             tip,
		SlippageBuffer:  slippageBuffer,
		NetProfit:       netProfit,
	}

	flashLoanFee := uint64(float64(borrowAmount) * float64(v.flashLoan.FeeBps) / 10000)

	valid := !v.economics.EnableNetProfitCheck || netProfit > 0
	reason := ""
	if !valid {
		reason = "net profit below zero after fees"
	}

	return ValidationResult{
		Valid:     valid,
		Fee:       flashLoanFee,
		NetProfit: netProfit,
		Breakdown: breakdown,
		Reason:    reason,
	}
}

func minInt64(values ...int64) int64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
