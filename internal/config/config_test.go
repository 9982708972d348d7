package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PassesValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate_RejectsNoSymbols(t *testing.T) {
	cfg := Default()
	cfg.Symbols = nil
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadConfidence(t *testing.T) {
	cfg := Default()
	cfg.Risk.ConfidenceFloor = 150
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsCeilingBelowFloor(t *testing.T) {
	cfg := Default()
	cfg.Risk.ConfidenceCeiling = cfg.Risk.ConfidenceFloor - 1
	assert.Error(t, cfg.Validate())
}

func TestBuildMatrix_FallsBackToDefault(t *testing.T) {
	cfg := Default()
	m, err := cfg.BuildMatrix()
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestParseMatrixKey_RejectsMissingSlash(t *testing.T) {
	_, err := parseMatrixKey("QUIETWEAK")
	assert.Error(t, err)
}
