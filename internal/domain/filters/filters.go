// Package filters runs the five-gate filter chain that stands between a
// predictor score and an emitted trade plan (spec §4.5). Grounded on the
// teacher's gates.EvaluateAllGates: ordered evaluation that short-circuits
// the overall verdict on the first BLOCK but keeps evaluating every gate so
// the audit trail always carries all five reasons.
package filters

import (
	"fmt"

	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/domain/matrix"
	"github.com/strikerun/strikerun/internal/domain/predictor"
	"github.com/strikerun/strikerun/internal/domain/quality"
)

// Status is the tagged three-state verdict spec §4.5 requires of every
// filter; only BLOCK aborts the chain, WARN is recorded but non-fatal.
type Status string

const (
	Pass  Status = "PASS"
	Warn  Status = "WARN"
	Block Status = "BLOCK"
)

// Reason is the tagged pass/warn/block result of one filter.
type Reason struct {
	Name    string             `json:"name"`
	Status  Status             `json:"status"`
	Message string             `json:"message"`
	Metrics map[string]float64 `json:"metrics"`
}

// HistoryEntry is the slice of a past snapshot carried in Inputs.Last10,
// newest first: whether it hit a stop loss (counted by the
// confidence-threshold and failure-detection filters) and its realized P&L.
type HistoryEntry struct {
	StoppedOut bool
	RealizedPL float64
}

// Inputs bundles everything the chain needs; the pipeline assembles this
// once per cadence tick after scoring, pulling AdaptiveThreshold and
// DailyRealizedPL from the scheduler's TradingState (spec §9: a single
// explicit state object updated only by the scheduler) and the last 10
// snapshots from the repository.
type Inputs struct {
	Vector      features.Vector
	Grade       quality.Grade
	Prediction  predictor.Prediction
	Cell        matrix.Cell
	LotSize     float64

	AdaptiveThreshold float64 // spec §4.5 filter 2, in confidence points (0-100)
	MaxPerTradeLoss   float64
	MaxDailyLoss      float64
	DailyRealizedPL   float64 // negative running total; losses accumulate downward

	Last10 []HistoryEntry // most recent first, oldest truncated past 10
}

// Thresholds parameterizes filters 3 and 4's ATR-unit bands (spec §4.5).
type Thresholds struct {
	TrendOpposedMaxConfidence float64 // below this, an opposed call still BLOCKs (spec: 72)
	EntryGoodATR              float64 // <= this is GOOD/PASS (spec: 0.5)
	EntryFairATR               float64 // <= this is FAIR/WARN (spec: 1.0)
	TrendNeutralBand          float64 // |EMACrossSlowLong| below this counts as neutral
}

// DefaultThresholds returns the chain's spec §4.5 built-in defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TrendOpposedMaxConfidence: 72,
		EntryGoodATR:              0.5,
		EntryFairATR:              1.0,
		TrendNeutralBand:          0.05,
	}
}

// Result is the outcome of running the full chain.
type Result struct {
	Passed        bool     `json:"passed"`
	OverallReason string   `json:"overall_reason"`
	Reasons       []Reason `json:"reasons"`
}

// Chain evaluates the five filters in a fixed order.
type Chain struct {
	Thresholds Thresholds

	// AdaptiveStep and AdaptiveCeiling parameterize filter 2's live
	// derivation of the effective confidence threshold from Last10 (spec
	// §4.5 filter 2: "+2 per stop-loss in the last 10 snapshots", capped).
	AdaptiveStep    float64
	AdaptiveCeiling float64
}

// NewChain builds a Chain with default thresholds.
func NewChain() Chain {
	return Chain{Thresholds: DefaultThresholds(), AdaptiveStep: 2, AdaptiveCeiling: 75}
}

// Evaluate runs all five filters in sequence: Position Sizing, Confidence
// Threshold, Trend Alignment, Entry Quality, Failure Detection. Any single
// BLOCK fails the whole chain, but every filter still runs so Result.Reasons
// always carries all five verdicts (spec §4.5, §8: "no more than one BLOCK
// implies plan=null").
func (c Chain) Evaluate(in Inputs) Result {
	res := Result{Passed: true, Reasons: make([]Reason, 0, 5)}

	record := func(r Reason) {
		res.Reasons = append(res.Reasons, r)
		if r.Status == Block {
			res.Passed = false
			if res.OverallReason == "" {
				res.OverallReason = fmt.Sprintf("blocked_by_%s: %s", r.Name, r.Message)
			}
		}
	}

	record(c.positionSizing(in))
	record(c.confidenceThreshold(in))
	record(c.trendAlignment(in))
	record(c.entryQuality(in))
	record(c.failureDetection(in))

	if res.Passed {
		res.OverallReason = "all_filters_passed"
	}
	return res
}

// positionSizing rejects plans whose matrix-derived SL would breach the
// per-trade loss cap, or whose day has already exhausted the daily realized
// loss cap (spec §4.5 filter 1).
func (c Chain) positionSizing(in Inputs) Reason {
	perTradeLoss := in.Cell.StopLossPoints * in.LotSize * in.Cell.SizeMultiplier
	overPerTrade := in.MaxPerTradeLoss > 0 && perTradeLoss > in.MaxPerTradeLoss
	overDaily := in.MaxDailyLoss > 0 && -in.DailyRealizedPL >= in.MaxDailyLoss

	status := Pass
	msg := "within_risk_budget"
	switch {
	case overDaily:
		status = Block
		msg = fmt.Sprintf("daily_realized_loss_%.2f_reached_cap_%.2f", -in.DailyRealizedPL, in.MaxDailyLoss)
	case overPerTrade:
		status = Block
		msg = fmt.Sprintf("per_trade_loss_%.2f_exceeds_cap_%.2f", perTradeLoss, in.MaxPerTradeLoss)
	}
	return Reason{
		Name: "position_sizing", Status: status, Message: msg,
		Metrics: map[string]float64{"per_trade_loss": perTradeLoss, "max_per_trade_loss": in.MaxPerTradeLoss, "daily_realized_pl": in.DailyRealizedPL},
	}
}

// confidenceThreshold BLOCKs below the effective adaptive threshold (spec
// §4.5 filter 2). The scheduler's daily-decayed baseline (in.AdaptiveThreshold)
// is raised AdaptiveStep points per stop-loss hit in the last 10 snapshots,
// capped at AdaptiveCeiling, derived fresh on every tick rather than carried
// as accumulated state.
func (c Chain) confidenceThreshold(in Inputs) Reason {
	losses := 0
	for _, h := range in.Last10 {
		if h.StoppedOut {
			losses++
		}
	}
	threshold := in.AdaptiveThreshold + c.AdaptiveStep*float64(losses)
	if c.AdaptiveCeiling > 0 && threshold > c.AdaptiveCeiling {
		threshold = c.AdaptiveCeiling
	}

	status := Pass
	msg := "confidence_sufficient"
	if in.Prediction.Confidence < threshold {
		status = Block
		msg = fmt.Sprintf("confidence_%.2f_below_adaptive_threshold_%.2f", in.Prediction.Confidence, threshold)
	} else if in.Prediction.Confidence < threshold+3 {
		status = Warn
		msg = "confidence_close_to_adaptive_threshold"
	}
	return Reason{
		Name: "confidence_threshold", Status: status, Message: msg,
		Metrics: map[string]float64{"confidence": in.Prediction.Confidence, "adaptive_threshold": threshold, "stop_loss_hits_last_10": float64(losses)},
	}
}

// trendAlignment compares the predictor's direction against the 15-minute
// EMA relationship (spec §4.5 filter 3): PASS if aligned, WARN if neutral,
// BLOCK if opposed and confidence is below 72.
func (c Chain) trendAlignment(in Inputs) Reason {
	trend := in.Vector.EMACrossSlowLong
	bullish := trend > c.Thresholds.TrendNeutralBand
	bearish := trend < -c.Thresholds.TrendNeutralBand
	predictedUp := in.Prediction.Direction == predictor.Buy

	var status Status
	var msg string
	switch {
	case !bullish && !bearish:
		status = Warn
		msg = "trend_neutral"
	case (predictedUp && bullish) || (!predictedUp && bearish):
		status = Pass
		msg = "trend_aligned"
	default:
		status = Warn
		msg = "trend_opposed"
		if in.Prediction.Confidence < c.Thresholds.TrendOpposedMaxConfidence {
			status = Block
		}
	}
	return Reason{
		Name: "trend_alignment", Status: status, Message: msg,
		Metrics: map[string]float64{"ema_slow_long_cross": trend, "confidence": in.Prediction.Confidence},
	}
}

// entryQuality scores proximity of entry to the nearest support (BUY) or
// resistance (SELL) in ATR units (spec §4.5 filter 4): <=0.5 GOOD/PASS,
// <=1.0 FAIR/WARN, else POOR/BLOCK unless the setup graded EXCELLENT.
func (c Chain) entryQuality(in Inputs) Reason {
	dist := in.Vector.NearestSupportDistATR
	if in.Prediction.Direction == predictor.Sell {
		dist = in.Vector.NearestResistanceDistATR
	}

	var status Status
	var msg string
	switch {
	case dist <= c.Thresholds.EntryGoodATR:
		status, msg = Pass, "entry_good"
	case dist <= c.Thresholds.EntryFairATR:
		status, msg = Warn, "entry_fair"
	default:
		status, msg = Block, "entry_poor"
		if in.Grade == quality.Excellent {
			status = Warn
		}
	}
	return Reason{
		Name: "entry_quality", Status: status, Message: msg,
		Metrics: map[string]float64{"nearest_level_dist_atr": dist},
	}
}

// failureDetection reads the last 10 snapshots (spec §4.5 filter 5): BLOCK
// at 3+ stop-loss hits, WARN at 2.
func (c Chain) failureDetection(in Inputs) Reason {
	hits := 0
	for _, h := range in.Last10 {
		if h.StoppedOut {
			hits++
		}
	}

	status := Pass
	msg := "no_active_failure_signal"
	switch {
	case hits >= 3:
		status = Block
		msg = fmt.Sprintf("%d_stop_losses_in_last_10_snapshots", hits)
	case hits == 2:
		status = Warn
		msg = "2_stop_losses_in_last_10_snapshots"
	}
	return Reason{
		Name: "failure_detection", Status: status, Message: msg,
		Metrics: map[string]float64{"stop_loss_hits_last_10": float64(hits)},
	}
}
