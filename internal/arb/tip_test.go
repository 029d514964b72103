package arb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTipCalculator_NonPositiveProfitReturnsMin(t *testing.T) {
	calc := NewTipCalculator(1000, 100000)
	assert.Equal(t, uint64(1000), calc.Compute(0, CompetitionHigh, UrgencyCritical, HistoricalTipData{}))
	assert.Equal(t, uint64(1000), calc.Compute(-500, CompetitionHigh, UrgencyCritical, HistoricalTipData{}))
}

func TestTipCalculator_ScalesWithCompetitionAndUrgency(t *testing.T) {
	calc := NewTipCalculator(0, 1_000_000)

	low := calc.Compute(100_000, CompetitionLow, UrgencyNormal, HistoricalTipData{})
	high := calc.Compute(100_000, CompetitionHigh, UrgencyCritical, HistoricalTipData{})

	assert.Greater(t, high, low)
	assert.Equal(t, uint64(10_000), low)            // 100_000 * 0.10 * 1.0
	assert.Equal(t, uint64(72_000), high)            // 100_000 * 0.45 * 1.6
}

func TestTipCalculator_ClampsToMaxTip(t *testing.T) {
	calc := NewTipCalculator(0, 5_000)
	tip := calc.Compute(1_000_000, CompetitionHigh, UrgencyCritical, HistoricalTipData{})
	assert.Equal(t, uint64(5_000), tip)
}

func TestTipCalculator_ClampsToMinTip(t *testing.T) {
	calc := NewTipCalculator(50_000, 1_000_000)
	tip := calc.Compute(1_000, CompetitionLow, UrgencyNormal, HistoricalTipData{})
	assert.Equal(t, uint64(50_000), tip)
}

func TestTipCalculator_HistoricalFloorWins(t *testing.T) {
	calc := NewTipCalculator(0, 1_000_000)
	tip := calc.Compute(10_000, CompetitionLow, UrgencyNormal, HistoricalTipData{RecentWinningTipLamports: 900_000})
	assert.Equal(t, uint64(900_000), tip)
}
