package arb

import "math"

// CompetitionLevel buckets how contested the current slot is believed to
// be, driving how aggressively the tip scales with expected profit (§4.8).
type CompetitionLevel int

const (
	CompetitionLow CompetitionLevel = iota
	CompetitionMedium
	CompetitionHigh
)

// Urgency reflects how close the opportunity is to going stale (e.g. the
// quote's remaining TTL), independent of competition.
type Urgency int

const (
	UrgencyNormal Urgency = iota
	UrgencyElevated
	UrgencyCritical
)

// competitionShare is the fraction of expected profit offered as a base
// tip for a given competition bucket, before the urgency multiplier.
var competitionShare = map[CompetitionLevel]float64{
	CompetitionLow:    0.10,
	CompetitionMedium: 0.25,
	CompetitionHigh:   0.45,
}

// urgencyMultiplier scales the base tip up when the opportunity is close
// to expiring; a lost bid costs the whole opportunity, not just the tip.
var urgencyMultiplier = map[Urgency]float64{
	UrgencyNormal:   1.0,
	UrgencyElevated: 1.3,
	UrgencyCritical: 1.6,
}

// HistoricalTipData is a rolling observation of recently winning tips,
// used as a floor so the computed tip never undercuts what the block
// engine has actually been accepting.
type HistoricalTipData struct {
	RecentWinningTipLamports uint64
}

// TipCalculator produces a bounded tip in lamports from expected profit,
// perceived competition, and urgency (§4.8). It never consults the
// network directly; all inputs are passed by the caller.
type TipCalculator struct {
	minTip uint64
	maxTip uint64
}

// NewTipCalculator builds a TipCalculator bounded by the block-engine's
// configured minimum and maximum tip.
func NewTipCalculator(minTip, maxTip uint64) *TipCalculator {
	return &TipCalculator{minTip: minTip, maxTip: maxTip}
}

// Compute returns a tip in lamports, clamped to [minTip, maxTip]. A
// negative or zero expected profit still yields minTip: a transaction is
// either tipped at least the floor or not submitted at all, a decision
// left to the caller.
func (t *TipCalculator) Compute(expectedProfit int64, competition CompetitionLevel, urgency Urgency, historical HistoricalTipData) uint64 {
	if expectedProfit <= 0 {
		return t.clamp(t.minTip)
	}

	share, ok := competitionShare[competition]
	if !ok {
		share = competitionShare[CompetitionMedium]
	}
	mult, ok := urgencyMultiplier[urgency]
	if !ok {
		mult = 1.0
	}

	raw := float64(expectedProfit) * share * mult
	tip := uint64(math.Round(raw))

	if historical.RecentWinningTipLamports > tip {
		tip = historical.RecentWinningTipLamports
	}

	return t.clamp(tip)
}

func (t *TipCalculator) clamp(tip uint64) uint64 {
	if tip < t.minTip {
		return t.minTip
	}
	if t.maxTip > 0 && tip > t.maxTip {
		return t.maxTip
	}
	return tip
}
