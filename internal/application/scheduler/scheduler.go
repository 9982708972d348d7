// Package scheduler drives the pipeline on a fixed 15-minute cadence
// aligned to wall-clock boundaries, skipping ticks outside market hours or
// while data isn't ready yet. Grounded on the teacher's job-runner
// scheduler shape (one method per cadence job, explicit run-once entry
// points for tests), simplified to the single pipeline job this system has.
//
// The scheduler also owns the one explicit piece of mutable trading state
// the system carries between ticks (spec §9): the adaptive confidence
// threshold, the day's realized P&L, and each symbol's active position.
// Nothing else mutates it; HTTP handlers only read a copy.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strikerun/strikerun/internal/application/pipeline"
	"github.com/strikerun/strikerun/internal/domain"
	"github.com/strikerun/strikerun/internal/domain/candle"
	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/domain/plan"
	"github.com/strikerun/strikerun/internal/domain/regime"
	"github.com/strikerun/strikerun/internal/persistence"
)

// CadenceMinutes is the fixed tick interval (spec §5).
const CadenceMinutes = 15

// PipelineState is the scheduler's last-known outcome for a symbol,
// surfaced on the dashboard's status endpoint.
type PipelineState string

const (
	StateIdle     PipelineState = "IDLE"
	StateRunning  PipelineState = "RUNNING"
	StateHold     PipelineState = "HOLD" // market closed, or structure unchanged under an active position
	StateWait     PipelineState = "WAIT" // buffer not yet warmed up
	StateOK       PipelineState = "OK"   // a new plan was emitted
	StateNoSignal PipelineState = "NO_SIGNAL"
	StateError    PipelineState = "ERROR"
)

// Source supplies the scheduler with everything it needs for one tick: the
// candle window, the options snapshot, and the running session stats.
type Source interface {
	Bars(symbol string) []candle.Candle
	OptionsSnapshot(ctx context.Context, symbol string) (features.OptionsSnapshot, error)
	SessionState(symbol string) features.SessionState
	OpenRiskPct(symbol string) float64
}

// MarketCalendar decides whether the market is open at a given instant
// (spec §2: NSE/BSE trading session, IST).
type MarketCalendar interface {
	IsOpen(t time.Time) bool
}

// SymbolRisk is the per-symbol sizing and loss-cap inputs a trading plan
// needs (spec §6 `base_lots`, `max_per_trade_loss`, `max_daily_loss`).
type SymbolRisk struct {
	LotSize         float64
	BaseLots        float64
	MaxPerTradeLoss float64
	MaxDailyLoss    float64
}

// AdaptiveConfig bounds the scheduler-maintained adaptive confidence
// threshold (spec §6 `confidence_floor`/`confidence_ceiling`, §9 "raise on
// loss, decay on a clean day"). RaiseStep and DecayStep differ: spec §4.5
// filter 2 raises +2 per stop-loss in the last 10 snapshots, while
// rollDailyState decays -1 on each new calendar day.
type AdaptiveConfig struct {
	Floor     float64
	Ceiling   float64
	RaiseStep float64
	DecayStep float64
}

// ActivePosition is the live position snapshot a HOLD decision compares
// the new tick's structure against (spec §3, §4.7).
type ActivePosition struct {
	Plan       plan.TradePlan
	Condition  regime.Condition
	Direction  plan.Direction
	EmittedAt  time.Time
	ValidUntil time.Time
}

// TradingState is the single explicit mutable state object spec §9
// describes: adaptive_threshold, active_position, daily_realized_pl,
// last_cadence_ts. One instance per symbol.
type TradingState struct {
	AdaptiveThreshold float64
	DailyRealizedPL   float64
	LastCadenceTS     time.Time
	Active            *ActivePosition
}

// Scheduler runs the pipeline for a fixed symbol set on cadence ticks.
type Scheduler struct {
	Symbols    []string
	Pipeline   *pipeline.Pipeline
	Source     Source
	Calendar   MarketCalendar
	Log        zerolog.Logger
	SymbolRisk map[string]SymbolRisk
	Adaptive   AdaptiveConfig
	ValidFor   time.Duration // spec §6 `level_validity_seconds`

	mu      sync.RWMutex
	states  map[string]PipelineState
	trading map[string]*TradingState
}

// New builds a Scheduler for the given symbol set.
func New(symbols []string, p *pipeline.Pipeline, src Source, cal MarketCalendar, log zerolog.Logger) *Scheduler {
	adaptive := AdaptiveConfig{Floor: 60, Ceiling: 75, RaiseStep: 2, DecayStep: 1}
	trading := make(map[string]*TradingState, len(symbols))
	for _, sym := range symbols {
		trading[sym] = &TradingState{AdaptiveThreshold: adaptive.Floor}
	}
	return &Scheduler{
		Symbols: symbols, Pipeline: p, Source: src, Calendar: cal,
		Log:        log.With().Str("component", "scheduler").Logger(),
		SymbolRisk: make(map[string]SymbolRisk, len(symbols)),
		Adaptive:   adaptive,
		ValidFor:   CadenceMinutes * time.Minute,
		states:     make(map[string]PipelineState, len(symbols)),
		trading:    trading,
	}
}

// Run blocks, firing RunOnce at each 15-minute wall-clock boundary until
// ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := nextBoundary(time.Now(), CadenceMinutes)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case fired := <-timer.C:
			s.RunOnce(ctx, fired)
		}
	}
}

// RunOnce runs one cadence tick for every configured symbol. Each symbol
// is evaluated independently; a HOLD/WAIT/ERROR on one symbol never blocks
// the others (spec §5 per-symbol independence).
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) {
	for _, symbol := range s.Symbols {
		s.runSymbol(ctx, symbol, now)
	}
}

func (s *Scheduler) runSymbol(ctx context.Context, symbol string, now time.Time) {
	if s.Calendar != nil && !s.Calendar.IsOpen(now) {
		s.setState(symbol, StateHold)
		return
	}

	bars := s.Source.Bars(symbol)
	if len(bars) < features.MinBars {
		s.setState(symbol, StateWait)
		return
	}

	s.setState(symbol, StateRunning)

	opt, err := s.Source.OptionsSnapshot(ctx, symbol)
	if err != nil {
		s.Log.Warn().Str("symbol", symbol).Err(err).Msg("scheduler: options snapshot unavailable, proceeding with stale/zero values")
	}

	sess := s.Source.SessionState(symbol)
	risk := s.Source.OpenRiskPct(symbol)

	ts := s.tradingState(symbol)
	s.rollDailyState(ts, now)

	sr := s.SymbolRisk[symbol]
	params := pipeline.TradingParams{
		LotSize: sr.LotSize, BaseLots: sr.BaseLots,
		MaxPerTradeLoss: sr.MaxPerTradeLoss, MaxDailyLoss: sr.MaxDailyLoss,
		AdaptiveThreshold: ts.AdaptiveThreshold,
		DailyRealizedPL:   ts.DailyRealizedPL,
	}

	res := s.Pipeline.Run(ctx, symbol, bars, opt, sess, risk, now, params)

	s.mu.Lock()
	ts.LastCadenceTS = now
	s.mu.Unlock()

	if res.Err != nil {
		if errors.Is(res.Err, domain.ErrInsufficientData) {
			s.setState(symbol, StateWait)
			return
		}
		s.setState(symbol, StateError)
		return
	}

	if res.Snapshot.Plan == nil {
		s.mu.Lock()
		if ts.Active != nil && !now.Before(ts.Active.ValidUntil) {
			ts.Active = nil
		}
		s.mu.Unlock()
		s.setState(symbol, StateNoSignal)
		return
	}

	p := res.Snapshot.Plan
	s.mu.Lock()
	unchanged := ts.Active != nil && now.Before(ts.Active.ValidUntil) &&
		ts.Active.Condition == res.Snapshot.Condition && ts.Active.Direction == p.Direction
	if !unchanged {
		ts.Active = &ActivePosition{
			Plan: *p, Condition: res.Snapshot.Condition, Direction: p.Direction,
			EmittedAt: now, ValidUntil: now.Add(s.validFor()),
		}
	}
	s.mu.Unlock()

	if unchanged {
		s.setState(symbol, StateHold)
		return
	}
	s.setState(symbol, StateOK)
}

func (s *Scheduler) validFor() time.Duration {
	if s.ValidFor <= 0 {
		return CadenceMinutes * time.Minute
	}
	return s.ValidFor
}

// rollDailyState zeroes the daily realized P&L and decays the adaptive
// threshold by DecayStep toward its floor when the tick crosses into a new
// calendar day. The decay does not check whether the previous day had any
// losses.
func (s *Scheduler) rollDailyState(ts *TradingState, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.LastCadenceTS.IsZero() {
		return
	}
	ly, lm, ld := ts.LastCadenceTS.Date()
	ny, nm, nd := now.Date()
	if ly == ny && lm == nm && ld == nd {
		return
	}
	ts.DailyRealizedPL = 0
	if ts.AdaptiveThreshold > s.Adaptive.Floor {
		ts.AdaptiveThreshold -= s.Adaptive.DecayStep
		if ts.AdaptiveThreshold < s.Adaptive.Floor {
			ts.AdaptiveThreshold = s.Adaptive.Floor
		}
	}
}

// OnOutcome folds a resolved trade's realized P&L into the day's running
// total, called by whatever wires the outcome watcher to the scheduler. The
// adaptive threshold itself is not raised here: filter 2 (spec §4.5) derives
// its effective threshold live from the repository's last-10-snapshot
// window each tick, so a stop-loss already seeded into that window is
// reflected on the very next tick without this method tracking it.
func (s *Scheduler) OnOutcome(symbol string, outcome persistence.Outcome, realizedPL float64) {
	ts := s.tradingState(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	ts.DailyRealizedPL += realizedPL
}

func (s *Scheduler) tradingState(symbol string) *TradingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trading == nil {
		s.trading = make(map[string]*TradingState)
	}
	ts, ok := s.trading[symbol]
	if !ok {
		ts = &TradingState{AdaptiveThreshold: s.Adaptive.Floor}
		s.trading[symbol] = ts
	}
	return ts
}

// TradingState returns a copy of the current trading state for a symbol,
// safe for concurrent read by HTTP handlers.
func (s *Scheduler) TradingState(symbol string) TradingState {
	ts := s.tradingState(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *ts
}

func (s *Scheduler) setState(symbol string, st PipelineState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[symbol] = st
}

// State returns the last recorded state for a symbol.
func (s *Scheduler) State(symbol string) PipelineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[symbol]; ok {
		return st
	}
	return StateIdle
}

// nextBoundary returns the next wall-clock instant that is a multiple of
// `minutes` past the hour.
func nextBoundary(from time.Time, minutes int) time.Time {
	truncated := from.Truncate(time.Duration(minutes) * time.Minute)
	if !truncated.After(from) {
		truncated = truncated.Add(time.Duration(minutes) * time.Minute)
	}
	return truncated
}
