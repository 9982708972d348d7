// Package pipeline synchronously orchestrates one cadence-tick invocation:
// feature engineering, classification, scoring, prediction, filtering, and
// plan generation, persisting the full audit trail regardless of outcome
// (spec §5, §9).
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/strikerun/strikerun/internal/domain/candle"
	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/domain/filters"
	"github.com/strikerun/strikerun/internal/domain/matrix"
	"github.com/strikerun/strikerun/internal/domain/plan"
	"github.com/strikerun/strikerun/internal/domain/predictor"
	"github.com/strikerun/strikerun/internal/domain/quality"
	"github.com/strikerun/strikerun/internal/domain/regime"
	"github.com/strikerun/strikerun/internal/metrics"
	"github.com/strikerun/strikerun/internal/persistence"
)

// Result is everything one pipeline invocation produced, independent of
// whether persistence succeeded — callers decide how to react to a
// Result.Err.
type Result struct {
	Snapshot persistence.Snapshot
	Err      error
}

// TradingParams is the per-symbol slice of the scheduler's explicit
// PipelineState (spec §9) the pipeline needs each tick: the lot size, the
// scheduler-maintained adaptive confidence threshold, and the day's loss
// caps/realized P&L. Owned and updated only by the scheduler; the pipeline
// only reads a copy.
type TradingParams struct {
	LotSize           float64
	BaseLots          float64
	MaxPerTradeLoss   float64
	MaxDailyLoss      float64
	AdaptiveThreshold float64
	DailyRealizedPL   float64
}

// Pipeline wires every domain stage together behind a single Run call.
type Pipeline struct {
	Engineer   features.Engineer
	Classifier regime.Classifier
	Scorer     quality.Scorer
	Matrix     *matrix.Matrix
	Predictor  *predictor.Predictor
	Chain      filters.Chain
	// Generators holds each symbol's strike step/base lots, since NIFTY and
	// SENSEX differ (spec §2) and a single Pipeline instance serves every
	// symbol the scheduler drives.
	Generators map[string]plan.Generator
	Repo       persistence.Repository
	Log        zerolog.Logger

	// Metrics is optional; when set, every Run call records its duration,
	// outcome state, filter verdict, and predictor confidence (spec §9
	// observability is an ambient concern, not a scoped feature).
	Metrics *metrics.Registry

	// Greeks projects an ATM option's delta and mid premium from the spot
	// price when an options snapshot is available; left nil, premium
	// projection is skipped and the plan carries only spot-level targets
	// (spec §9: Black-Scholes greeks() is an external pure utility, only
	// its delta is consumed here).
	Greeks func(spot, strike float64, opt features.OptionsSnapshot) (delta, mid float64)
}

// Run executes one full pipeline pass for a symbol against its current
// candle window and side inputs, writes the resulting snapshot to the
// repository (when one is set), and returns it. Any stage error is returned
// as Result.Err. A predictor failure still persists a partial snapshot that
// records the skip; a feature-engineering error (such as insufficient data)
// or a missing matrix cell returns an empty Snapshot and writes nothing.
func (p *Pipeline) Run(ctx context.Context, symbol string, bars []candle.Candle, opt features.OptionsSnapshot, sess features.SessionState, openRiskPct float64, now time.Time, params TradingParams) Result {
	start := time.Now()
	if p.Metrics != nil {
		defer func() {
			p.Metrics.PipelineDuration.WithLabelValues(symbol).Observe(time.Since(start).Seconds())
		}()
	}

	v, err := p.Engineer.Compute(bars, opt, sess, now)
	if err != nil {
		if p.Metrics != nil {
			p.Metrics.PipelineErrors.WithLabelValues(symbol, "feature_engineering").Inc()
		}
		return p.finish(ctx, symbol, now, persistence.Snapshot{}, fmt.Errorf("pipeline: feature engineering: %w", err))
	}

	cond := p.Classifier.Classify(v)
	_, grade := p.Scorer.Score(v)

	cell, ok := p.Matrix.Lookup(cond, grade)
	if !ok {
		return p.finish(ctx, symbol, now, persistence.Snapshot{}, fmt.Errorf("pipeline: no matrix cell for %s/%s", cond, grade))
	}

	pred, err := p.Predictor.Predict(v)
	if err != nil {
		if p.Metrics != nil {
			p.Metrics.PipelineErrors.WithLabelValues(symbol, "predict").Inc()
		}
		snap := persistence.Snapshot{
			Symbol: symbol, Timestamp: now, Condition: cond, Grade: grade,
			Features: v, Outcome: persistence.OutcomePending,
			Reason: fmt.Sprintf("predictor unavailable: %v", err),
		}
		return p.finish(ctx, symbol, now, snap, fmt.Errorf("pipeline: predict: %w", err))
	}
	if p.Metrics != nil {
		p.Metrics.PredictorConfidence.WithLabelValues(symbol).Observe(pred.Confidence / 100)
	}

	entry := bars[len(bars)-1].Close

	last10, err := p.recentHistory(ctx, symbol)
	if err != nil {
		p.Log.Warn().Str("symbol", symbol).Err(err).Msg("pipeline: failed to load failure-detection history, proceeding with none")
	}

	filterRes := p.Chain.Evaluate(filters.Inputs{
		Vector: v, Grade: grade, Prediction: pred, Cell: cell, LotSize: params.LotSize,
		AdaptiveThreshold: params.AdaptiveThreshold,
		MaxPerTradeLoss:   params.MaxPerTradeLoss,
		MaxDailyLoss:      params.MaxDailyLoss,
		DailyRealizedPL:   params.DailyRealizedPL,
		Last10:            last10,
	})

	snap := persistence.Snapshot{
		Symbol: symbol, Timestamp: now, Condition: cond, Grade: grade,
		Confidence: pred.Confidence, Features: v,
		FilterPass: filterRes.Passed, Reason: filterRes.OverallReason,
		Outcome: persistence.OutcomePending,
	}

	if p.Metrics != nil {
		p.Metrics.FilterPassRate.WithLabelValues(symbol, fmt.Sprintf("%t", filterRes.Passed)).Inc()
	}

	if filterRes.Passed {
		gen := p.Generators[symbol]
		strike := roundToStrikeStep(entry, gen.StrikeStep)
		var prem plan.PremiumInputs
		if p.Greeks != nil {
			delta, mid := p.Greeks(entry, strike, opt)
			prem = plan.PremiumInputs{Delta: delta, MidPremium: mid, LotSize: int(params.LotSize)}
		}

		tp := gen.Generate(symbol, v, cond, grade, cell, pred, entry, prem)
		if tp.RiskRewardT1 < 1.0 {
			snap.FilterPass = false
			snap.Reason = fmt.Sprintf("blocked_by_risk_reward: rr1_%.2f_below_1.0", tp.RiskRewardT1)
		} else {
			snap.Plan = &tp
		}
	}

	return p.finish(ctx, symbol, now, snap, nil)
}

func (p *Pipeline) recentHistory(ctx context.Context, symbol string) ([]filters.HistoryEntry, error) {
	if p.Repo == nil {
		return nil, nil
	}
	snaps, err := p.Repo.Recent(ctx, symbol, 10)
	if err != nil {
		return nil, err
	}
	out := make([]filters.HistoryEntry, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, filters.HistoryEntry{
			StoppedOut: s.Outcome == persistence.OutcomeStopped,
			RealizedPL: s.RealizedPL,
		})
	}
	return out, nil
}

func roundToStrikeStep(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	n := float64(int64(price/step + 0.5))
	return n * step
}

func (p *Pipeline) finish(ctx context.Context, symbol string, now time.Time, snap persistence.Snapshot, stageErr error) Result {
	if stageErr != nil {
		p.Log.Warn().Str("symbol", symbol).Time("ts", now).Err(stageErr).Msg("pipeline stage error")
	}
	if p.Repo != nil && snap.Symbol != "" {
		id, err := p.Repo.Put(ctx, snap)
		if err != nil {
			p.Log.Error().Str("symbol", symbol).Err(err).Msg("pipeline: failed to persist snapshot")
			if p.Metrics != nil {
				p.Metrics.RepositoryWriteErrors.Inc()
			}
		} else {
			snap.ID = id
		}
	}
	if p.Metrics != nil {
		state := "wait"
		switch {
		case stageErr != nil:
			state = "error"
		case snap.Plan != nil:
			state = "plan"
		case snap.Symbol != "":
			state = "no_signal"
		}
		p.Metrics.PipelineRuns.WithLabelValues(symbol, state).Inc()
	}
	return Result{Snapshot: snap, Err: stageErr}
}
