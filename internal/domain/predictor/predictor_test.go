package predictor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikerun/strikerun/internal/domain"
	"github.com/strikerun/strikerun/internal/domain/features"
)

type fakeModel struct {
	names []string
	prob  float64
}

func (f fakeModel) FeatureNames() []string { return f.names }
func (f fakeModel) Version() string        { return "test-v1" }
func (f fakeModel) Predict(row []float64) (float64, float64, error) {
	return f.prob, f.prob * 2, nil
}

func TestPredict_BeforeLoadReturnsModelNotLoaded(t *testing.T) {
	p := New()
	_, err := p.Predict(features.Vector{})
	assert.ErrorIs(t, err, domain.ErrModelNotLoaded)
}

func TestLoad_RejectsSchemaMismatch(t *testing.T) {
	p := New()
	err := p.Load(fakeModel{names: []string{"wrong"}})
	assert.ErrorIs(t, err, domain.ErrFeatureSchemaMismatch)
}

func TestLoad_AcceptsMatchingSchemaAndPredicts(t *testing.T) {
	p := New()
	require.NoError(t, p.Load(fakeModel{names: features.Names(), prob: 0.72}))
	assert.True(t, p.Loaded())

	pred, err := p.Predict(features.Vector{RSI14: 55})
	require.NoError(t, err)
	assert.Equal(t, 0.72, pred.Probability)
	assert.Equal(t, Buy, pred.Direction)
	assert.InDelta(t, 72.0, pred.Confidence, 1e-9)
	assert.Equal(t, "test-v1", pred.ModelVersion)
}

func TestPredict_SellWinsWhenDownProbHigher(t *testing.T) {
	p := New()
	require.NoError(t, p.Load(fakeModel{names: features.Names(), prob: 0.3}))

	pred, err := p.Predict(features.Vector{})
	require.NoError(t, err)
	assert.Equal(t, Sell, pred.Direction)
	assert.InDelta(t, 70.0, pred.Confidence, 1e-9)
}
