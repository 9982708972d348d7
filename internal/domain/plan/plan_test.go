package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/domain/matrix"
	"github.com/strikerun/strikerun/internal/domain/predictor"
	"github.com/strikerun/strikerun/internal/domain/quality"
	"github.com/strikerun/strikerun/internal/domain/regime"
)

func TestGenerate_LongDirection(t *testing.T) {
	g := Generator{StrikeStep: 50, BaseLots: 1}
	cell := matrix.Cell{StopLossPoints: 14, Target1Points: 40, Target2Points: 70, SizeMultiplier: 1}
	v := features.Vector{ATR14: 20}

	p := g.Generate("NIFTY", v, regime.Normal, quality.Strong, cell, predictor.Prediction{Direction: predictor.Buy, Confidence: 71}, 22000, PremiumInputs{})

	assert.Equal(t, Long, p.Direction)
	assert.Equal(t, CallOption, p.OptionType)
	assert.Equal(t, 21986.0, p.StopLoss)
	assert.Equal(t, 22040.0, p.Target1)
	assert.InDelta(t, 40.0/14.0, p.RiskRewardT1, 1e-9)
	assert.Equal(t, 22000.0, p.SuggestedStrike)
	assert.Equal(t, 1.0, p.PositionSizeLots)
}

func TestGenerate_ShortDirection(t *testing.T) {
	g := Generator{StrikeStep: 100, BaseLots: 3}
	cell := matrix.Cell{StopLossPoints: 24, Target1Points: 80, Target2Points: 150, SizeMultiplier: 0.5}
	v := features.Vector{ATR14: 30}

	p := g.Generate("SENSEX", v, regime.High, quality.Moderate, cell, predictor.Prediction{Direction: predictor.Sell, Confidence: 63}, 72050, PremiumInputs{})

	assert.Equal(t, Short, p.Direction)
	assert.Equal(t, PutOption, p.OptionType)
	assert.Equal(t, 72074.0, p.StopLoss)
	assert.Equal(t, 71970.0, p.Target1)
	assert.Equal(t, 72100.0, p.SuggestedStrike)
	assert.Equal(t, 1.0, p.PositionSizeLots) // floor(3 * 0.5) = 1
}

func TestGenerate_PositionSizeFlooredNotFractional(t *testing.T) {
	g := Generator{StrikeStep: 50, BaseLots: 1}
	cell := matrix.Cell{StopLossPoints: 14, Target1Points: 40, Target2Points: 70, SizeMultiplier: 1.25}
	v := features.Vector{ATR14: 20}

	p := g.Generate("NIFTY", v, regime.Normal, quality.Strong, cell, predictor.Prediction{Direction: predictor.Buy, Confidence: 71}, 22000, PremiumInputs{})

	assert.Equal(t, 1.0, p.PositionSizeLots) // floor(1 * 1.25) = 1, not 1.25
}

func TestGenerate_PremiumProjectionViaDeltaLinearization(t *testing.T) {
	g := Generator{StrikeStep: 50, BaseLots: 2}
	cell := matrix.Cell{StopLossPoints: 14, Target1Points: 40, Target2Points: 70, SizeMultiplier: 1}
	v := features.Vector{ATR14: 20}

	p := g.Generate("NIFTY", v, regime.Normal, quality.Strong, cell, predictor.Prediction{Direction: predictor.Buy, Confidence: 71}, 22000,
		PremiumInputs{Delta: 0.5, MidPremium: 120, LotSize: 25})

	assert.Equal(t, 120.0, p.PremiumEntry)
	assert.Equal(t, 140.0, p.PremiumTarget)
	assert.Equal(t, 113.0, p.PremiumSL)
	assert.Equal(t, (140.0-120.0)*25*2, p.ProjectedPL)
}
