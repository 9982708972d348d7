package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strikerun/strikerun/internal/domain/features"
)

func TestClassify_Bands(t *testing.T) {
	c := NewClassifier()

	assert.Equal(t, Quiet, c.Classify(features.Vector{ATR14: 8}))
	assert.Equal(t, Normal, c.Classify(features.Vector{ATR14: 17}))
	assert.Equal(t, High, c.Classify(features.Vector{ATR14: 30}))
	assert.Equal(t, Extreme, c.Classify(features.Vector{ATR14: 50}))
}

func TestClassify_BoundaryInclusiveOnNormalLowerEdge(t *testing.T) {
	c := NewClassifier()

	assert.Equal(t, Normal, c.Classify(features.Vector{ATR14: 13.0}))
	assert.Equal(t, Quiet, c.Classify(features.Vector{ATR14: 12.999}))
}

func TestClassify_RangePercentileTriggersExtreme(t *testing.T) {
	c := NewClassifier()
	got := c.Classify(features.Vector{ATR14: 10, RealizedRangePercentile: 0.97})
	assert.Equal(t, Extreme, got)
}

func TestClassify_VolOfVolZTriggersExtreme(t *testing.T) {
	c := NewClassifier()
	got := c.Classify(features.Vector{ATR14: 10, VolOfVol20: 3.0})
	assert.Equal(t, Extreme, got)
}

func TestClassify_RSIDispersionWithVolumeTriggersHigh(t *testing.T) {
	c := NewClassifier()
	got := c.Classify(features.Vector{ATR14: 10, RSI14: 25, VolumeZScore: 2.0})
	assert.Equal(t, High, got)
}

func TestClassify_RSIDispersionWithoutVolumeStaysAtATRBand(t *testing.T) {
	c := NewClassifier()
	got := c.Classify(features.Vector{ATR14: 10, RSI14: 25, VolumeZScore: 0.2})
	assert.Equal(t, Quiet, got)
}
