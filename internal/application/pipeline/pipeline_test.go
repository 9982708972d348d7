package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fakeRepo struct{ puts []persistence.Snapshot }

func (f *fakeRepo) Put(_ context.Context, s persistence.Snapshot) (int64, error) {
	f.puts = append(f.puts, s)
	return int64(len(f.puts)), nil
}
func (f *fakeRepo) Recent(context.Context, string, int) ([]persistence.Snapshot, error) { return nil, nil }
func (f *fakeRepo) UpdateOutcome(context.Context, int64, persistence.Outcome, float64, time.Time) error {
	return nil
}
func (f *fakeRepo) Stats(context.Context, string, time.Time) (persistence.Stats, error) {
	return persistence.Stats{}, nil
}
func (f *fakeRepo) Purge(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeModel struct{}

func (fakeModel) FeatureNames() []string { return features.Names() }
func (fakeModel) Version() string        { return "fake-v1" }
func (fakeModel) Predict([]float64) (float64, float64, error) { return 0.9, 1.8, nil }

func syntheticBars(n int) []candle.Candle {
	bars := make([]candle.Candle, n)
	price := 20000.0
	for i := 0; i < n; i++ {
		price += float64((i%7)-3) * 2.5
		bars[i] = candle.Candle{Time: int64(i) * candle.BarSeconds, Open: price - 1, High: price + 8, Low: price - 8, Close: price, Volume: 1000}
	}
	return bars
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeRepo) {
	t.Helper()
	p := predictor.New()
	require.NoError(t, p.Load(fakeModel{}))
	repo := &fakeRepo{}
	return &Pipeline{
		Engineer:   features.Engineer{},
		Classifier: regime.NewClassifier(),
		Scorer:     quality.NewScorer(),
		Matrix:     matrix.Default(),
		Predictor:  p,
		Chain:      filters.NewChain(),
		Generators: map[string]plan.Generator{"NIFTY": {StrikeStep: 50, BaseLots: 1}},
		Repo:       repo,
		Log:        zerolog.Nop(),
	}, repo
}

func testParams() TradingParams {
	return TradingParams{
		LotSize: 75, BaseLots: 1,
		MaxPerTradeLoss: 5000, MaxDailyLoss: 15000,
		AdaptiveThreshold: 60,
	}
}

func TestRun_InsufficientDataSkipsPersist(t *testing.T) {
	p, repo := newTestPipeline(t)
	res := p.Run(context.Background(), "NIFTY", syntheticBars(10), features.OptionsSnapshot{}, features.SessionState{}, 0, time.Now(), testParams())
	assert.Error(t, res.Err)
	assert.Empty(t, repo.puts)
}

func TestRun_FullPassPersistsSnapshot(t *testing.T) {
	p, repo := newTestPipeline(t)
	res := p.Run(context.Background(), "NIFTY", syntheticBars(250), features.OptionsSnapshot{PCR: 1}, features.SessionState{}, 0.01, time.Now(), testParams())
	require.NoError(t, res.Err)
	require.Len(t, repo.puts, 1)
	assert.Equal(t, "NIFTY", res.Snapshot.Symbol)
}

func TestRun_RecordsMetricsWhenRegistrySet(t *testing.T) {
	p, _ := newTestPipeline(t)
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	p.Metrics = reg

	p.Run(context.Background(), "NIFTY", syntheticBars(250), features.OptionsSnapshot{PCR: 1}, features.SessionState{}, 0.01, time.Now(), testParams())

	assert.Equal(t, float64(1), counterVecSum(t, reg.PipelineRuns))
	assert.Equal(t, float64(1), counterVecSum(t, reg.FilterPassRate))
}

func counterVecSum(t *testing.T, cv *prometheus.CounterVec) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	cv.Collect(ch)
	close(ch)
	var total float64
	for m := range ch {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		total += pb.GetCounter().GetValue()
	}
	return total
}
