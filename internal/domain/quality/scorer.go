// Package quality buckets the L1-L5 layer scores computed by the feature
// engineer into a discrete setup-quality grade (spec §4.3), one axis of the
// parameter matrix lookup alongside the market condition.
package quality

import "github.com/strikerun/strikerun/internal/domain/features"

// Grade is the discrete setup-quality bucket.
type Grade string

const (
	Weak      Grade = "WEAK"
	Moderate  Grade = "MODERATE"
	Strong    Grade = "STRONG"
	Excellent Grade = "EXCELLENT"
)

// Weights mirrors the layer weighting applied by the feature engineer's
// QualityWeightedSum, kept here so the scorer can be re-weighted
// independently of feature computation if the model's layer emphasis shifts.
type Weights struct {
	Structure       float64
	Options         float64
	Technical       float64
	Blocking        float64
	MultiTimeframe  float64
}

// DefaultWeights matches the L1..L5 weighting spec §4.3 fixes:
// Q = 0.25*L1 + 0.20*L2 + 0.20*L3 + 0.20*L4 + 0.15*L5.
func DefaultWeights() Weights {
	return Weights{Structure: 0.25, Options: 0.20, Technical: 0.20, Blocking: 0.20, MultiTimeframe: 0.15}
}

// Bucket boundaries over the [0,1] weighted sum.
const (
	strongMin    = 0.75
	moderateMin  = 0.55
	weakMin      = 0.35
)

// Scorer grades a feature vector's setup quality.
type Scorer struct {
	Weights Weights
}

// NewScorer builds a Scorer using the default layer weights.
func NewScorer() Scorer {
	return Scorer{Weights: DefaultWeights()}
}

// Score recomputes the weighted sum from the vector's L1-L5 layer scores
// and buckets it into a Grade. A FailureWindowFlag or StructuralBreakFlag
// caps the grade at Moderate regardless of the weighted sum (spec §4.3
// edge case: a technically strong setup during a known failure window is
// never graded Excellent).
func (s Scorer) Score(v features.Vector) (float64, Grade) {
	sum := s.Weights.Structure*v.L1Structure +
		s.Weights.Options*v.L2Options +
		s.Weights.Technical*v.L3Technical +
		s.Weights.Blocking*v.L4Blocking +
		s.Weights.MultiTimeframe*v.L5MultiTimeframe

	grade := bucket(sum)
	if (v.FailureWindowFlag == 1 || v.StructuralBreakFlag == 1) && rank(grade) > rank(Moderate) {
		grade = Moderate
	}
	return sum, grade
}

func bucket(sum float64) Grade {
	switch {
	case sum >= strongMin:
		return Excellent
	case sum >= moderateMin:
		return Strong
	case sum >= weakMin:
		return Moderate
	default:
		return Weak
	}
}

func rank(g Grade) int {
	switch g {
	case Weak:
		return 0
	case Moderate:
		return 1
	case Strong:
		return 2
	default:
		return 3
	}
}
