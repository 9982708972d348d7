// Package predictor wraps the externally trained scoring model behind a
// schema-checked contract: the pipeline never calls the model directly, so
// a missing or mismatched model artifact degrades to a typed error instead
// of a panic (spec §4.4).
package predictor

import (
	"fmt"
	"sync"

	"github.com/strikerun/strikerun/internal/domain"
	"github.com/strikerun/strikerun/internal/domain/features"
)

// Direction is the model's argmax trade bias (spec §4.4).
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Prediction is the model's output: calibrated up/down probabilities, the
// argmax direction, a 0-100 confidence derived from the winning class, and
// the raw pre-squash score for audit logging (spec §3 Prediction,
// §4.4 Predictor).
type Prediction struct {
	Direction    Direction
	Confidence   float64 // 100 * max(up_prob, down_prob)
	UpProb       float64
	DownProb     float64
	Probability  float64 // up_prob, kept for callers that only care about the BUY-side score
	RawScore     float64
	ModelVersion string
}

// Model is the contract any loaded artifact must satisfy. Implementations
// live outside this package (e.g. a CGo/ONNX/HTTP adapter); this package
// only owns the schema guard and the hot-swap lifecycle.
type Model interface {
	FeatureNames() []string
	Version() string
	Predict(row []float64) (probability, rawScore float64, err error)
}

// Predictor guards a Model behind the 74-name schema contract and allows
// hot-swapping the loaded model without restarting the process (spec §4.4
// "model reload" operation).
type Predictor struct {
	mu    sync.RWMutex
	model Model
}

// New returns a Predictor with no model loaded; Predict returns
// domain.ErrModelNotLoaded until Load succeeds.
func New() *Predictor {
	return &Predictor{}
}

// Load installs a model after validating its declared feature names exactly
// match, in order, the 74-slot schema this build was compiled against.
func (p *Predictor) Load(m Model) error {
	want := features.Names()
	got := m.FeatureNames()
	if len(got) != len(want) {
		return fmt.Errorf("%w: model declares %d features, expected %d", domain.ErrFeatureSchemaMismatch, len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%w: feature %d is %q, expected %q", domain.ErrFeatureSchemaMismatch, i, got[i], want[i])
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = m
	return nil
}

// Loaded reports whether a model is currently installed.
func (p *Predictor) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model != nil
}

// Predict runs the loaded model against a feature vector, flattening it in
// the frozen schema order via features.Names.
func (p *Predictor) Predict(v features.Vector) (Prediction, error) {
	p.mu.RLock()
	model := p.model
	p.mu.RUnlock()
	if model == nil {
		return Prediction{}, domain.ErrModelNotLoaded
	}

	m := v.ToMap()
	row := make([]float64, len(features.Names()))
	for i, name := range features.Names() {
		row[i] = m[name]
	}

	upProb, raw, err := model.Predict(row)
	if err != nil {
		return Prediction{}, fmt.Errorf("predictor: model predict: %w", err)
	}
	downProb := 1 - upProb

	dir := Buy
	conf := upProb
	if downProb > upProb {
		dir = Sell
		conf = downProb
	}

	return Prediction{
		Direction:    dir,
		Confidence:   100 * conf,
		UpProb:       upProb,
		DownProb:     downProb,
		Probability:  upProb,
		RawScore:     raw,
		ModelVersion: model.Version(),
	}, nil
}
