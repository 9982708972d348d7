// Package persistence defines the storage contract the pipeline writes
// every cadence-tick snapshot through (spec §9, Metrics Repository).
package persistence

import (
	"context"
	"time"

	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/domain/plan"
	"github.com/strikerun/strikerun/internal/domain/quality"
	"github.com/strikerun/strikerun/internal/domain/regime"
)

// Outcome is the realized result of a trade plan, recorded once by the
// outcome watcher (at-most-once per snapshot).
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeTarget1 Outcome = "TARGET_1"
	OutcomeTarget2 Outcome = "TARGET_2"
	OutcomeStopped Outcome = "STOPPED"
	OutcomeExpired Outcome = "EXPIRED"
)

// Snapshot is one fully-audited pipeline invocation: the computed features,
// classification, scored quality, the plan (if any filter chain passed),
// and — once known — the realized outcome.
type Snapshot struct {
	ID         int64             `db:"id"`
	Symbol     string            `db:"symbol"`
	Timestamp  time.Time         `db:"ts"`
	Condition  regime.Condition  `db:"condition"`
	Grade      quality.Grade     `db:"grade"`
	Confidence float64           `db:"confidence"`
	Features   features.Vector   `db:"-"`
	Plan       *plan.TradePlan   `db:"-"`
	FilterPass bool              `db:"filter_pass"`
	Reason     string            `db:"reason"`
	Outcome    Outcome           `db:"outcome"`
	OutcomeAt  *time.Time        `db:"outcome_at"`
	RealizedPL float64           `db:"realized_pl"`
}

// Stats summarizes repository contents over a window, the backing data for
// the dashboard's performance endpoint (spec §4.8).
type Stats struct {
	TotalSnapshots  int     `db:"total_snapshots"`
	TotalPlans      int     `db:"total_plans"`
	Wins            int     `db:"wins"`
	Losses          int     `db:"losses"`
	WinRate         float64 `db:"win_rate"`
	AvgConfidence   float64 `db:"avg_confidence"`
	TotalPL         float64 `db:"total_pl"`
	AvgWinDurationS float64 `db:"avg_win_duration_seconds"`
	BestHour        int     `db:"best_hour"`
}

// Repository is the durable store for every pipeline snapshot. Grounded on
// the teacher's tradesRepo contract (Put/Recent/UpdateOutcome/Stats/Purge).
type Repository interface {
	Put(ctx context.Context, s Snapshot) (int64, error)
	Recent(ctx context.Context, symbol string, limit int) ([]Snapshot, error)
	UpdateOutcome(ctx context.Context, id int64, outcome Outcome, realizedPL float64, at time.Time) error
	Stats(ctx context.Context, symbol string, since time.Time) (Stats, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}
