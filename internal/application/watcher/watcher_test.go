package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikerun/strikerun/internal/domain/plan"
	"github.com/strikerun/strikerun/internal/persistence"
)

type fakeRepo struct {
	snaps   []persistence.Snapshot
	updated []persistence.Outcome
}

func (f *fakeRepo) Put(context.Context, persistence.Snapshot) (int64, error) { return 0, nil }
func (f *fakeRepo) Recent(context.Context, string, int) ([]persistence.Snapshot, error) {
	return f.snaps, nil
}
func (f *fakeRepo) UpdateOutcome(_ context.Context, id int64, outcome persistence.Outcome, _ float64, _ time.Time) error {
	f.updated = append(f.updated, outcome)
	for i := range f.snaps {
		if f.snaps[i].ID == id {
			f.snaps[i].Outcome = outcome
		}
	}
	return nil
}
func (f *fakeRepo) Stats(context.Context, string, time.Time) (persistence.Stats, error) {
	return persistence.Stats{}, nil
}
func (f *fakeRepo) Purge(context.Context, time.Time) (int64, error) { return 0, nil }

type fakePrices struct{ price float64 }

func (f fakePrices) LastPrice(string) (float64, bool) { return f.price, true }

func TestCheckSymbol_ResolvesTarget2ForLong(t *testing.T) {
	repo := &fakeRepo{snaps: []persistence.Snapshot{
		{ID: 1, Symbol: "NIFTY", Timestamp: time.Now(), Outcome: persistence.OutcomePending,
			Plan: &plan.TradePlan{Direction: plan.Long, Entry: 100, StopLoss: 90, Target1: 110, Target2: 120}},
	}}
	w := &Watcher{Repo: repo, Prices: fakePrices{price: 122}, Log: zerolog.Nop()}
	w.checkSymbol(context.Background(), "NIFTY")

	require.Len(t, repo.updated, 1)
	assert.Equal(t, persistence.OutcomeTarget2, repo.updated[0])
}

func TestCheckSymbol_ResolvesStopLossForShort(t *testing.T) {
	repo := &fakeRepo{snaps: []persistence.Snapshot{
		{ID: 2, Symbol: "NIFTY", Timestamp: time.Now(), Outcome: persistence.OutcomePending,
			Plan: &plan.TradePlan{Direction: plan.Short, Entry: 100, StopLoss: 110, Target1: 90, Target2: 80}},
	}}
	w := &Watcher{Repo: repo, Prices: fakePrices{price: 111}, Log: zerolog.Nop()}
	w.checkSymbol(context.Background(), "NIFTY")

	require.Len(t, repo.updated, 1)
	assert.Equal(t, persistence.OutcomeStopped, repo.updated[0])
}

func TestCheckSymbol_SkipsAlreadyResolved(t *testing.T) {
	repo := &fakeRepo{snaps: []persistence.Snapshot{
		{ID: 3, Symbol: "NIFTY", Outcome: persistence.OutcomeTarget1,
			Plan: &plan.TradePlan{Direction: plan.Long, Entry: 100, StopLoss: 90, Target1: 110, Target2: 120}},
	}}
	w := &Watcher{Repo: repo, Prices: fakePrices{price: 200}, Log: zerolog.Nop()}
	w.checkSymbol(context.Background(), "NIFTY")
	assert.Empty(t, repo.updated)
}
