// Package watcher polls live price against each pending plan's stop-loss
// and targets, recording the realized outcome exactly once (spec §4.6
// "trade lifecycle"). At-most-once delivery is enforced by the repository's
// conditional UPDATE (see persistence/postgres.snapshotRepo.UpdateOutcome);
// this package only decides WHEN a plan has resolved.
package watcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/strikerun/strikerun/internal/domain/plan"
	"github.com/strikerun/strikerun/internal/persistence"
)

// PriceSource supplies the current traded price for a symbol.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// Watcher polls pending snapshots and resolves their outcome once price
// touches a stop-loss or target level.
type Watcher struct {
	Repo   persistence.Repository
	Prices PriceSource
	Log    zerolog.Logger

	// PollInterval controls how often pending snapshots are re-checked.
	PollInterval time.Duration
	// ExpireAfter marks a plan EXPIRED if neither target nor stop is hit
	// within this duration (spec §4.6 end-of-day close-out).
	ExpireAfter time.Duration

	// OnResolved, if set, is called after a snapshot's outcome is durably
	// recorded, letting the scheduler fold the result into its daily P&L
	// state (spec §9) and the session tracker into its rolling win/loss
	// streaks.
	OnResolved func(symbol string, outcome persistence.Outcome, realizedPL float64, at time.Time)
}

// Run polls every PollInterval until ctx is canceled.
func (w *Watcher) Run(ctx context.Context, symbols []string) error {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, symbol := range symbols {
				w.checkSymbol(ctx, symbol)
			}
		}
	}
}

func (w *Watcher) checkSymbol(ctx context.Context, symbol string) {
	snaps, err := w.Repo.Recent(ctx, symbol, 50)
	if err != nil {
		w.Log.Warn().Str("symbol", symbol).Err(err).Msg("watcher: failed to list recent snapshots")
		return
	}

	price, ok := w.Prices.LastPrice(symbol)
	if !ok {
		return
	}

	now := time.Now()
	for _, s := range snaps {
		if s.Outcome != persistence.OutcomePending || s.Plan == nil {
			continue
		}
		outcome, resolved := w.resolve(*s.Plan, price, s.Timestamp, now)
		if !resolved {
			continue
		}
		pl := realizedPL(*s.Plan, outcome)
		if err := w.Repo.UpdateOutcome(ctx, s.ID, outcome, pl, now); err != nil {
			w.Log.Error().Int64("snapshot_id", s.ID).Err(err).Msg("watcher: failed to record outcome")
			continue
		}
		if w.OnResolved != nil {
			w.OnResolved(symbol, outcome, pl, now)
		}
	}
}

// realizedPL projects the P&L a resolved outcome locked in, in premium
// terms when a premium projection was recorded, else in spot points scaled
// by lots (spec §4.8 `update_outcome(id, outcome, realized_pl)`).
func realizedPL(p plan.TradePlan, outcome persistence.Outcome) float64 {
	if p.ProjectedPL != 0 {
		switch outcome {
		case persistence.OutcomeTarget1, persistence.OutcomeTarget2:
			return p.ProjectedPL
		case persistence.OutcomeStopped:
			return -(p.PremiumEntry - p.PremiumSL) * float64(p.PositionSizeLots)
		}
		return 0
	}

	var points float64
	switch outcome {
	case persistence.OutcomeTarget1:
		points = p.Target1 - p.Entry
	case persistence.OutcomeTarget2:
		points = p.Target2 - p.Entry
	case persistence.OutcomeStopped:
		points = p.StopLoss - p.Entry
	default:
		return 0
	}
	if p.Direction == plan.Short {
		points = -points
	}
	return points * p.PositionSizeLots
}

func (w *Watcher) resolve(p plan.TradePlan, price float64, openedAt, now time.Time) (persistence.Outcome, bool) {
	hit := func(level float64, beyond func(a, b float64) bool) bool { return beyond(price, level) }

	if p.Direction == plan.Long {
		switch {
		case hit(p.StopLoss, func(a, b float64) bool { return a <= b }):
			return persistence.OutcomeStopped, true
		case hit(p.Target2, func(a, b float64) bool { return a >= b }):
			return persistence.OutcomeTarget2, true
		case hit(p.Target1, func(a, b float64) bool { return a >= b }):
			return persistence.OutcomeTarget1, true
		}
	} else {
		switch {
		case hit(p.StopLoss, func(a, b float64) bool { return a >= b }):
			return persistence.OutcomeStopped, true
		case hit(p.Target2, func(a, b float64) bool { return a <= b }):
			return persistence.OutcomeTarget2, true
		case hit(p.Target1, func(a, b float64) bool { return a <= b }):
			return persistence.OutcomeTarget1, true
		}
	}

	if w.ExpireAfter > 0 && now.Sub(openedAt) > w.ExpireAfter {
		return persistence.OutcomeExpired, true
	}
	return "", false
}
