package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/domain/matrix"
	"github.com/strikerun/strikerun/internal/domain/predictor"
)

func cleanInputs() Inputs {
	return Inputs{
		Vector: features.Vector{
			EMACrossSlowLong:         0.3,
			NearestResistanceDistATR: 1.5,
			NearestSupportDistATR:    0.3,
		},
		Prediction:        predictor.Prediction{Direction: predictor.Buy, Confidence: 80},
		Cell:              matrix.Cell{StopLossPoints: 14, SizeMultiplier: 1},
		LotSize:           25,
		MaxPerTradeLoss:   10000,
		MaxDailyLoss:      20000,
		AdaptiveThreshold: 60,
	}
}

func TestEvaluate_AllPass(t *testing.T) {
	c := NewChain()
	res := c.Evaluate(cleanInputs())
	assert.True(t, res.Passed)
	assert.Len(t, res.Reasons, 5)
	assert.Equal(t, "all_filters_passed", res.OverallReason)
}

func TestEvaluate_LowConfidenceBlocksButCollectsAllReasons(t *testing.T) {
	in := cleanInputs()
	in.Prediction.Confidence = 20
	res := NewChain().Evaluate(in)
	assert.False(t, res.Passed)
	assert.Len(t, res.Reasons, 5)
	assert.Contains(t, res.OverallReason, "confidence_threshold")
}

func TestEvaluate_ConfidenceEqualToThresholdPasses(t *testing.T) {
	in := cleanInputs()
	in.Prediction.Confidence = 60
	res := NewChain().Evaluate(in)
	assert.True(t, res.Passed)
}

func TestEvaluate_ConfidenceJustBelowThresholdBlocks(t *testing.T) {
	in := cleanInputs()
	in.Prediction.Confidence = 59.999
	res := NewChain().Evaluate(in)
	assert.False(t, res.Passed)
}

func TestEvaluate_FailureDetectionBlocksAtThreeStops(t *testing.T) {
	in := cleanInputs()
	in.Last10 = []HistoryEntry{{StoppedOut: true}, {StoppedOut: true}, {StoppedOut: true}}
	res := NewChain().Evaluate(in)
	assert.False(t, res.Passed)
	assert.Contains(t, res.OverallReason, "failure_detection")
}

func TestEvaluate_FailureDetectionWarnsAtTwoStops(t *testing.T) {
	in := cleanInputs()
	in.Last10 = []HistoryEntry{{StoppedOut: true}, {StoppedOut: true}}
	res := NewChain().Evaluate(in)
	assert.True(t, res.Passed)
	for _, r := range res.Reasons {
		if r.Name == "failure_detection" {
			assert.Equal(t, Warn, r.Status)
		}
	}
}

func TestEvaluate_ConfidenceThresholdRisesWithRecentStopLosses(t *testing.T) {
	in := cleanInputs()
	in.Prediction.Confidence = 63
	in.Last10 = []HistoryEntry{{StoppedOut: true}, {StoppedOut: true}, {StoppedOut: true}}
	res := NewChain().Evaluate(in)
	assert.False(t, res.Passed)
	var ct Reason
	for _, r := range res.Reasons {
		if r.Name == "confidence_threshold" {
			ct = r
		}
	}
	assert.Equal(t, Block, ct.Status)
	assert.Equal(t, float64(66), ct.Metrics["adaptive_threshold"])
}

func TestEvaluate_PositionSizingBlocksOversizeSL(t *testing.T) {
	in := cleanInputs()
	in.Cell = matrix.Cell{StopLossPoints: 50, SizeMultiplier: 1.25}
	in.MaxPerTradeLoss = 1000
	res := NewChain().Evaluate(in)
	assert.False(t, res.Passed)
	assert.Contains(t, res.OverallReason, "position_sizing")
}

func TestEvaluate_EntryQualityBlocksPoorUnlessExcellent(t *testing.T) {
	in := cleanInputs()
	in.Vector.NearestSupportDistATR = 2.0
	res := NewChain().Evaluate(in)
	assert.False(t, res.Passed)

	in.Grade = "EXCELLENT"
	res = NewChain().Evaluate(in)
	assert.True(t, res.Passed)
}

func TestEvaluate_TrendOpposedBlocksBelowConfidence72(t *testing.T) {
	in := cleanInputs()
	in.Vector.EMACrossSlowLong = -0.3 // bearish trend, predicting BUY
	in.Prediction.Confidence = 70
	res := NewChain().Evaluate(in)
	assert.False(t, res.Passed)

	in.Prediction.Confidence = 80
	res = NewChain().Evaluate(in)
	assert.True(t, res.Passed)
}
