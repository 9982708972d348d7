package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikerun/strikerun/internal/domain"
	"github.com/strikerun/strikerun/internal/domain/candle"
)

func syntheticBars(n int) []candle.Candle {
	bars := make([]candle.Candle, n)
	price := 20000.0
	for i := 0; i < n; i++ {
		price += float64((i%7)-3) * 2.5
		high := price + 8
		low := price - 8
		bars[i] = candle.Candle{
			Time:   int64(i) * candle.BarSeconds,
			Open:   price - 1,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: int64(1000 + (i%5)*100),
		}
	}
	return bars
}

func TestEngineerCompute_InsufficientData(t *testing.T) {
	e := Engineer{}
	_, err := e.Compute(syntheticBars(50), OptionsSnapshot{}, SessionState{}, time.Now())
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestEngineerCompute_PopulatesAllFamilies(t *testing.T) {
	e := Engineer{HistoricalLevels: []float64{20100, 19900}}
	bars := syntheticBars(250)
	now := time.Date(2026, 7, 29, 11, 30, 0, 0, time.UTC)
	v, err := e.Compute(bars, OptionsSnapshot{PCR: 1.1, OISkew: 0.2, IVSkew: 0.1, ATMIVRank: 0.5, InstitutionalActivityProxy: 0.3, AgeSeconds: 10}, SessionState{WinStreak: 2}, now)
	require.NoError(t, err)

	assert.NotZero(t, v.EMA20)
	assert.NotZero(t, v.ATR14)
	assert.False(t, v.FeatureStale)
	assert.Equal(t, 11.0, v.Hour)
	assert.Equal(t, float64(PhaseMid), v.MarketPhase)
	assert.Equal(t, 2.0, v.WinStreak)
	assert.Equal(t, 1.1, v.PCR)
	assert.GreaterOrEqual(t, v.QualityWeightedSum, 0.0)
	assert.LessOrEqual(t, v.QualityWeightedSum, 1.0)
}

func TestEngineerCompute_StaleOptionsFlag(t *testing.T) {
	e := Engineer{}
	bars := syntheticBars(220)
	v, err := e.Compute(bars, OptionsSnapshot{AgeSeconds: 600}, SessionState{}, time.Now())
	require.NoError(t, err)
	assert.True(t, v.FeatureStale)
}

func TestNames_Has74Entries(t *testing.T) {
	assert.Len(t, Names(), 74)
}
