package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikerun/strikerun/internal/domain/quality"
	"github.com/strikerun/strikerun/internal/domain/regime"
)

func TestNew_RejectsIncompleteMatrix(t *testing.T) {
	_, err := New(map[Key]Cell{
		{regime.Quiet, quality.Weak}: {StopLossPoints: 1},
	})
	assert.Error(t, err)
}

func TestDefault_CoversAllSixteenCells(t *testing.T) {
	m := Default()
	for _, c := range allConditions() {
		for _, g := range allGrades() {
			cell, ok := m.Lookup(c, g)
			require.True(t, ok, "missing cell %s/%s", c, g)
			assert.Greater(t, cell.StopLossPoints, 0.0)
		}
	}
}

func TestDefault_WeakRowIsAlwaysZeroMultiplier(t *testing.T) {
	m := Default()
	for _, c := range allConditions() {
		cell, _ := m.Lookup(c, quality.Weak)
		assert.Equal(t, 0.0, cell.SizeMultiplier, "condition %s", c)
	}
}

func TestDefault_QuietAndExtremeModerateAreZeroMultiplier(t *testing.T) {
	m := Default()
	quietMod, _ := m.Lookup(regime.Quiet, quality.Moderate)
	extremeMod, _ := m.Lookup(regime.Extreme, quality.Moderate)
	assert.Equal(t, 0.0, quietMod.SizeMultiplier)
	assert.Equal(t, 0.0, extremeMod.SizeMultiplier)
}

func TestDefault_NormalStrongMatchesSpecScenario(t *testing.T) {
	m := Default()
	cell, ok := m.Lookup(regime.Normal, quality.Strong)
	require.True(t, ok)
	assert.Equal(t, 14.0, cell.StopLossPoints)
	assert.Equal(t, 40.0, cell.Target1Points)
	assert.Equal(t, 1.0, cell.SizeMultiplier)
}

func TestDefault_ExtremeExcellentRisksMoreThanQuietStrong(t *testing.T) {
	m := Default()
	low, _ := m.Lookup(regime.Quiet, quality.Strong)
	high, _ := m.Lookup(regime.Extreme, quality.Excellent)
	assert.Less(t, low.SizeMultiplier, high.SizeMultiplier)
	assert.Less(t, low.StopLossPoints, high.StopLossPoints)
}
