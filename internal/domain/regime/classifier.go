// Package regime classifies the current market condition from a feature
// vector into one of four volatility/trend regimes that gate the parameter
// matrix lookup (spec §4.2). Grounded on the teacher's RegimeDetector
// threshold-ladder pattern.
package regime

import "github.com/strikerun/strikerun/internal/domain/features"

// Condition is the classified market regime.
type Condition string

const (
	Quiet   Condition = "QUIET"
	Normal  Condition = "NORMAL"
	High    Condition = "HIGH"
	Extreme Condition = "EXTREME"
)

// Thresholds bounds the raw-ATR-points volatility ladder used to separate
// the four regimes, plus the secondary triggers spec §4.2 lists alongside
// ATR (realized-range percentile, vol-of-vol z-score, RSI dispersion with a
// volume-zscore co-trigger).
type Thresholds struct {
	ExtremeATR          float64
	HighATRMin          float64
	NormalATRMin        float64
	ExtremeRangePctile  float64
	QuietRangePctile    float64
	ExtremeVolOfVolZ    float64
	HighVolumeZ         float64
	RSILowerBand        float64
	RSIUpperBand        float64
}

// DefaultThresholds mirrors spec §4.2's table exactly: EXTREME at ATR>=45 (or
// range percentile >=95th, or vol-of-vol z>=2.5); HIGH at ATR in [22,45) (or
// RSI outside [30,70] with volume z>=1.5); NORMAL at ATR in [13,22); QUIET at
// ATR<13 and range percentile <=25th.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ExtremeATR:         45,
		HighATRMin:         22,
		NormalATRMin:       13,
		ExtremeRangePctile: 0.95,
		QuietRangePctile:   0.25,
		ExtremeVolOfVolZ:   2.5,
		HighVolumeZ:        1.5,
		RSILowerBand:       30,
		RSIUpperBand:       70,
	}
}

// Classifier determines Condition from ATR14 (raw points), the realized-range
// percentile, vol-of-vol, RSI, and volume z-score, applying spec §4.2's
// tie-break rule: ties resolve toward the higher-volatility bucket.
type Classifier struct {
	Thresholds Thresholds
}

// NewClassifier builds a Classifier with the default thresholds.
func NewClassifier() Classifier {
	return Classifier{Thresholds: DefaultThresholds()}
}

// Classify derives the market condition from a computed feature vector.
// Every trigger is evaluated independently and the highest-ranked result
// wins, which is exactly spec §4.2's tie-break rule in effect: a bar that
// would be NORMAL on ATR alone but EXTREME on range percentile is EXTREME.
func (c Classifier) Classify(v features.Vector) Condition {
	t := c.Thresholds

	extreme := v.ATR14 >= t.ExtremeATR ||
		v.RealizedRangePercentile >= t.ExtremeRangePctile ||
		v.VolOfVol20 >= t.ExtremeVolOfVolZ
	if extreme {
		return Extreme
	}

	rsiDispersed := v.RSI14 < t.RSILowerBand || v.RSI14 > t.RSIUpperBand
	high := (v.ATR14 >= t.HighATRMin) ||
		(rsiDispersed && v.VolumeZScore >= t.HighVolumeZ)
	if high {
		return High
	}

	normal := v.ATR14 >= t.NormalATRMin
	if normal {
		return Normal
	}

	// ATR14 < NormalATRMin here; spec's QUIET clause additionally requires
	// realized-range percentile <= 25th, but a low-ATR bar failing that
	// check still isn't NORMAL or above, so it falls through to QUIET
	// rather than being left unclassified.
	return Quiet
}
