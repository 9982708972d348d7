// Package plan assembles the final TradePlan from a matrix cell and the
// scored setup: entry, stop-loss, targets, strike selection, and position
// size (spec §4.6).
package plan

import (
	"fmt"
	"math"

	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/domain/matrix"
	"github.com/strikerun/strikerun/internal/domain/predictor"
	"github.com/strikerun/strikerun/internal/domain/quality"
	"github.com/strikerun/strikerun/internal/domain/regime"
)

// Direction is the trade bias.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// OptionType is the option side the plan trades (spec §4.6: CE for BUY on
// spot, PE for SELL).
type OptionType string

const (
	CallOption OptionType = "CE"
	PutOption  OptionType = "PE"
)

// TradePlan is the fully specified, auditable trade recommendation.
type TradePlan struct {
	Symbol            string           `json:"symbol"`
	Direction         Direction        `json:"direction"`
	Entry             float64          `json:"entry"`
	StopLoss          float64          `json:"stop_loss"`
	Target1           float64          `json:"target_1"`
	Target2           float64          `json:"target_2"`
	RiskRewardT1      float64          `json:"risk_reward_t1"`
	RiskRewardT2      float64          `json:"risk_reward_t2"`
	PositionSizeLots  float64          `json:"position_size_lots"`
	SuggestedStrike   float64          `json:"suggested_strike"`
	OptionType        OptionType       `json:"option_type"`
	PremiumEntry      float64          `json:"premium_entry"`
	PremiumTarget     float64          `json:"premium_target"`
	PremiumSL         float64          `json:"premium_sl"`
	ProjectedPL       float64          `json:"projected_pl"`
	Condition         regime.Condition `json:"condition"`
	Grade             quality.Grade    `json:"grade"`
	Confidence        float64          `json:"confidence"`
}

// PremiumInputs carries the option-chain-derived side data needed to
// project the premium P&L of a spot-level plan (spec §4.6, §9: the
// Black-Scholes greeks() utility is external; this package only consumes
// the delta it emits). A zero Delta (no live chain row) skips projection.
type PremiumInputs struct {
	Delta        float64
	MidPremium   float64 // live ATM mid, if a chain row was available
	LotSize      int
}

// Generator assembles a TradePlan from a scored feature vector, its
// classification, and the matrix cell it maps to.
type Generator struct {
	// StrikeStep is the option strike spacing (50 for NIFTY, 100 for
	// SENSEX per spec §2), used to round the suggested strike.
	StrikeStep float64
	// BaseLots is the account's base position size (in lots) before the
	// matrix's SizeMultiplier is applied (spec §6 `base_lots`).
	BaseLots float64
}

// Generate builds a TradePlan. Direction follows the predictor's argmax
// call (spec §4.6): BUY maps to LONG (calls), SELL to SHORT (puts).
func (g Generator) Generate(symbol string, v features.Vector, c regime.Condition, q quality.Grade, cell matrix.Cell, pred predictor.Prediction, entry float64, prem PremiumInputs) TradePlan {
	dir := Long
	opt := CallOption
	if pred.Direction == predictor.Sell {
		dir = Short
		opt = PutOption
	}

	var sl, t1, t2 float64
	if dir == Long {
		sl = entry - cell.StopLossPoints
		t1 = entry + cell.Target1Points
		t2 = entry + cell.Target2Points
	} else {
		sl = entry + cell.StopLossPoints
		t1 = entry - cell.Target1Points
		t2 = entry - cell.Target2Points
	}

	rrT1 := cell.Target1Points / cell.StopLossPoints
	rrT2 := cell.Target2Points / cell.StopLossPoints

	strike := roundToStep(entry, g.StrikeStep)
	// spec §4.6: position_size_lots = floor(base_lots * multiplier).
	lots := math.Floor(g.BaseLots * cell.SizeMultiplier)

	tp := TradePlan{
		Symbol:           symbol,
		Direction:        dir,
		Entry:            entry,
		StopLoss:         sl,
		Target1:          t1,
		Target2:          t2,
		RiskRewardT1:     rrT1,
		RiskRewardT2:     rrT2,
		PositionSizeLots: lots,
		SuggestedStrike:  strike,
		OptionType:       opt,
		Condition:        c,
		Grade:            q,
		Confidence:       pred.Confidence,
	}

	if prem.Delta != 0 {
		tp.PremiumEntry = prem.MidPremium
		tp.PremiumTarget = prem.MidPremium + prem.Delta*(t1-entry)
		tp.PremiumSL = prem.MidPremium + prem.Delta*(sl-entry)
		tp.ProjectedPL = (tp.PremiumTarget - tp.PremiumEntry) * float64(prem.LotSize) * lots
	}

	return tp
}

func roundToStep(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	n := float64(int64(price/step + 0.5))
	return n * step
}

// Explain renders a short human-readable summary for logs and the
// dashboard, mirroring the teacher's gate-explanation style.
func (p TradePlan) Explain() string {
	return fmt.Sprintf("%s %s entry=%.2f sl=%.2f t1=%.2f t2=%.2f rr1=%.2f confidence=%.2f [%s/%s]",
		p.Symbol, p.Direction, p.Entry, p.StopLoss, p.Target1, p.Target2, p.RiskRewardT1, p.Confidence, p.Condition, p.Grade)
}
