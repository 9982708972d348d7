// Package postgres implements the durable snapshot store against
// PostgreSQL. Grounded on the teacher's tradesRepo: sqlx + lib/pq, JSONB
// attribute marshaling, pq.Error duplicate-key handling, context-scoped
// query timeouts.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/strikerun/strikerun/internal/domain"
	"github.com/strikerun/strikerun/internal/domain/plan"
	"github.com/strikerun/strikerun/internal/persistence"
)

type snapshotRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotRepository builds a persistence.Repository backed by the
// snapshots table.
func NewSnapshotRepository(db *sqlx.DB, timeout time.Duration) persistence.Repository {
	return &snapshotRepo{db: db, timeout: timeout}
}

// Put writes one pipeline snapshot, including its feature vector and
// (optional) trade plan as JSONB, and returns the assigned row id.
func (r *snapshotRepo) Put(ctx context.Context, s persistence.Snapshot) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	featuresJSON, err := json.Marshal(s.Features.ToMap())
	if err != nil {
		return 0, fmt.Errorf("persistence: marshal features: %w", err)
	}
	var planJSON []byte
	if s.Plan != nil {
		planJSON, err = json.Marshal(s.Plan)
		if err != nil {
			return 0, fmt.Errorf("persistence: marshal plan: %w", err)
		}
	}

	const query = `
		INSERT INTO snapshots (ts, symbol, condition, grade, confidence, filter_pass, reason, outcome, realized_pl, features, plan)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	var id int64
	err = r.db.QueryRowxContext(ctx, query,
		s.Timestamp, s.Symbol, s.Condition, s.Grade, s.Confidence,
		s.FilterPass, s.Reason, s.Outcome, s.RealizedPL, featuresJSON, planJSON).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, fmt.Errorf("persistence: duplicate snapshot: %w", domain.ErrRepositoryWrite)
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrRepositoryWrite, err)
	}
	return id, nil
}

// Recent returns the most recent snapshots for a symbol, newest first.
func (r *snapshotRepo) Recent(ctx context.Context, symbol string, limit int) ([]persistence.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, ts, symbol, condition, grade, confidence, filter_pass, reason, outcome, realized_pl, features, plan
		FROM snapshots
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: query recent: %w", err)
	}
	defer rows.Close()

	var out []persistence.Snapshot
	for rows.Next() {
		var s persistence.Snapshot
		var featuresJSON, planJSON []byte
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.Symbol, &s.Condition, &s.Grade,
			&s.Confidence, &s.FilterPass, &s.Reason, &s.Outcome, &s.RealizedPL, &featuresJSON, &planJSON); err != nil {
			return nil, fmt.Errorf("persistence: scan snapshot: %w", err)
		}
		if len(planJSON) > 0 {
			var p plan.TradePlan
			if err := json.Unmarshal(planJSON, &p); err != nil {
				return nil, fmt.Errorf("persistence: unmarshal plan: %w", err)
			}
			s.Plan = &p
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterate snapshots: %w", err)
	}
	return out, nil
}

// UpdateOutcome records the realized outcome exactly once; a second call
// for the same id is a no-op success so the outcome watcher's at-most-once
// delivery never errors on a duplicate tick.
func (r *snapshotRepo) UpdateOutcome(ctx context.Context, id int64, outcome persistence.Outcome, realizedPL float64, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		UPDATE snapshots SET outcome = $1, outcome_at = $2, realized_pl = $3
		WHERE id = $4 AND outcome = $5`

	res, err := r.db.ExecContext(ctx, query, outcome, at, realizedPL, id, persistence.OutcomePending)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRepositoryWrite, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already resolved or unknown id; at-most-once means this is fine.
		return nil
	}
	return nil
}

// Stats aggregates win rate and average confidence for a symbol since a
// given time.
func (r *snapshotRepo) Stats(ctx context.Context, symbol string, since time.Time) (persistence.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT
			COUNT(*) AS total_snapshots,
			COUNT(*) FILTER (WHERE filter_pass) AS total_plans,
			COUNT(*) FILTER (WHERE outcome IN ('TARGET_1','TARGET_2')) AS wins,
			COUNT(*) FILTER (WHERE outcome = 'STOPPED') AS losses,
			COALESCE(AVG(confidence), 0) AS avg_confidence,
			COALESCE(SUM(realized_pl), 0) AS total_pl,
			COALESCE(
				(COUNT(*) FILTER (WHERE outcome IN ('TARGET_1','TARGET_2')))::float /
				NULLIF(COUNT(*) FILTER (WHERE outcome IN ('TARGET_1','TARGET_2','STOPPED')), 0),
				0
			) AS win_rate,
			COALESCE(AVG(EXTRACT(EPOCH FROM (outcome_at - ts))) FILTER (WHERE outcome IN ('TARGET_1','TARGET_2')), 0) AS avg_win_duration_seconds,
			COALESCE((
				SELECT EXTRACT(HOUR FROM ts)::int
				FROM snapshots
				WHERE symbol = $1 AND ts >= $2 AND outcome IN ('TARGET_1','TARGET_2')
				GROUP BY 1 ORDER BY COUNT(*) DESC LIMIT 1
			), 0) AS best_hour
		FROM snapshots
		WHERE symbol = $1 AND ts >= $2`

	var stats persistence.Stats
	err := r.db.QueryRowxContext(ctx, query, symbol, since).Scan(
		&stats.TotalSnapshots, &stats.TotalPlans, &stats.Wins, &stats.Losses, &stats.AvgConfidence,
		&stats.TotalPL, &stats.WinRate, &stats.AvgWinDurationS, &stats.BestHour)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Stats{}, nil
		}
		return persistence.Stats{}, fmt.Errorf("persistence: stats query: %w", err)
	}
	return stats, nil
}

// Purge deletes snapshots older than the given time, returning the count
// removed (spec §9 retention operation).
func (r *snapshotRepo) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout*4)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE ts < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("persistence: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("persistence: purge rows affected: %w", err)
	}
	return n, nil
}
