package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strikerun/strikerun/internal/domain/features"
)

func TestScore_Buckets(t *testing.T) {
	s := NewScorer()

	_, g := s.Score(features.Vector{L1Structure: 0.9, L2Options: 0.9, L3Technical: 0.9, L4Blocking: 0.9, L5MultiTimeframe: 0.9})
	assert.Equal(t, Excellent, g)

	_, g = s.Score(features.Vector{L1Structure: 0.1, L2Options: 0.1, L3Technical: 0.1, L4Blocking: 0.1, L5MultiTimeframe: 0.1})
	assert.Equal(t, Weak, g)
}

func TestScore_FailureWindowCapsGrade(t *testing.T) {
	s := NewScorer()
	_, g := s.Score(features.Vector{
		L1Structure: 0.9, L2Options: 0.9, L3Technical: 0.9, L4Blocking: 0.9, L5MultiTimeframe: 0.9,
		FailureWindowFlag: 1,
	})
	assert.Equal(t, Moderate, g)
}
