package predictor

import (
	"math"

	"github.com/strikerun/strikerun/internal/domain/features"
)

// HeuristicModel is a deterministic stand-in Model: a fixed-weight linear
// combination of a handful of trend/momentum/volatility features, scaled
// through a logistic squash. It exists so the pipeline can run end to end
// before a trained model artifact is available; swap it for a real model
// via Predictor.Load without restarting the process (model training itself
// is out of scope here).
type HeuristicModel struct {
	version string
	weights map[string]float64
	bias    float64
}

// NewHeuristicModel builds the default heuristic, weighted toward trend
// alignment, ADX strength, and RSI positioning away from the extremes.
func NewHeuristicModel() *HeuristicModel {
	return &HeuristicModel{
		version: "heuristic-v0",
		weights: map[string]float64{
			"ema_cross_fast_slow":      1.8,
			"adx":                      0.03,
			"macd_histogram":           0.5,
			"rsi_14":                   -0.01,
			"vwap_dist_atr":            -0.6,
			"volume_zscore":            0.15,
			"cumulative_signed_volume": 0.0005,
		},
		bias: -0.2,
	}
}

// FeatureNames must exactly match features.Names(), in order, even though
// this model only reads a handful of them — the schema contract is over
// the full row, not a model-selected subset.
func (m *HeuristicModel) FeatureNames() []string { return features.Names() }

// Version reports the model artifact identifier recorded on every Prediction.
func (m *HeuristicModel) Version() string { return m.version }

// Predict computes a logistic-squashed linear score over row, indexed by
// features.Names() order.
func (m *HeuristicModel) Predict(row []float64) (probability, rawScore float64, err error) {
	names := features.Names()
	for i, name := range names {
		if w, ok := m.weights[name]; ok {
			rawScore += w * row[i]
		}
	}
	rawScore += m.bias
	probability = 1 / (1 + math.Exp(-rawScore))
	return probability, rawScore, nil
}
