// Package matrix holds the total lookup table of trade parameters keyed by
// MarketCondition x SetupQuality (spec §4.5, §6). The table is an
// operator-tunable config artifact, not hardcoded trading logic: it is
// loaded from YAML at startup and validated for full 4x4 coverage.
package matrix

import (
	"fmt"

	"github.com/strikerun/strikerun/internal/domain/quality"
	"github.com/strikerun/strikerun/internal/domain/regime"
)

// Cell is one entry of the matrix: stop-loss and target distances in index
// points (spec §6's per-band point ranges), plus a position-size multiplier
// applied to the base lot count.
type Cell struct {
	StopLossPoints float64 `yaml:"stop_loss_points"`
	Target1Points  float64 `yaml:"target_1_points"`
	Target2Points  float64 `yaml:"target_2_points"`
	SizeMultiplier float64 `yaml:"size_multiplier"`
}

// Key identifies one matrix cell.
type Key struct {
	Condition regime.Condition
	Grade     quality.Grade
}

// Matrix is the full 4x4 lookup table.
type Matrix struct {
	cells map[Key]Cell
}

// New builds a Matrix from a flat cell list, typically unmarshaled from the
// YAML config. Returns an error if any of the 16 condition/grade pairs is
// missing (spec invariant: the matrix must be a total function).
func New(entries map[Key]Cell) (*Matrix, error) {
	m := &Matrix{cells: make(map[Key]Cell, len(entries))}
	for k, v := range entries {
		m.cells[k] = v
	}
	if err := m.validateTotal(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matrix) validateTotal() error {
	for _, c := range allConditions() {
		for _, g := range allGrades() {
			if _, ok := m.cells[Key{c, g}]; !ok {
				return fmt.Errorf("matrix: missing cell for condition=%s grade=%s", c, g)
			}
		}
	}
	return nil
}

// Lookup returns the cell for the given condition/grade pair. Callers are
// guaranteed a hit after New has validated totality; Lookup still returns a
// bool so a zero-value Matrix fails loudly instead of silently.
func (m *Matrix) Lookup(c regime.Condition, g quality.Grade) (Cell, bool) {
	cell, ok := m.cells[Key{c, g}]
	return cell, ok
}

func allConditions() []regime.Condition {
	return []regime.Condition{regime.Quiet, regime.Normal, regime.High, regime.Extreme}
}

func allGrades() []quality.Grade {
	return []quality.Grade{quality.Weak, quality.Moderate, quality.Strong, quality.Excellent}
}

// bandPoints is the per-condition (SL, T1, T2) point triple spec §6 gives as
// a range; one whole-point value inside each range is what the matrix
// stores, since SL/T1/T2 don't vary by quality — only the size multiplier
// does.
type bandPoints struct {
	sl, t1, t2 float64
}

func defaultBands() map[regime.Condition]bandPoints {
	return map[regime.Condition]bandPoints{
		regime.Quiet:   {sl: 9, t1: 20, t2: 35},
		regime.Normal:  {sl: 14, t1: 40, t2: 70},
		regime.High:    {sl: 24, t1: 80, t2: 150},
		regime.Extreme: {sl: 47, t1: 150, t2: 300},
	}
}

// defaultMultipliers reproduces spec §6's 4x4 position-multiplier table
// verbatim. WEAK is 0.0 in every condition; QUIET/MODERATE and
// EXTREME/MODERATE are also 0.0.
func defaultMultipliers() map[Key]float64 {
	return map[Key]float64{
		{regime.Quiet, quality.Weak}: 0.00, {regime.Quiet, quality.Moderate}: 0.00, {regime.Quiet, quality.Strong}: 0.50, {regime.Quiet, quality.Excellent}: 1.00,
		{regime.Normal, quality.Weak}: 0.00, {regime.Normal, quality.Moderate}: 0.50, {regime.Normal, quality.Strong}: 1.00, {regime.Normal, quality.Excellent}: 1.25,
		{regime.High, quality.Weak}: 0.00, {regime.High, quality.Moderate}: 0.50, {regime.High, quality.Strong}: 1.00, {regime.High, quality.Excellent}: 1.25,
		{regime.Extreme, quality.Weak}: 0.00, {regime.Extreme, quality.Moderate}: 0.00, {regime.Extreme, quality.Strong}: 0.50, {regime.Extreme, quality.Excellent}: 1.00,
	}
}

// Default returns the built-in matrix spec §6 specifies exactly: fixed
// SL/T1/T2 point bands per condition and the 4x4 size-multiplier table.
func Default() *Matrix {
	bands := defaultBands()
	mult := defaultMultipliers()
	entries := make(map[Key]Cell, 16)
	for _, c := range allConditions() {
		b := bands[c]
		for _, g := range allGrades() {
			entries[Key{c, g}] = Cell{
				StopLossPoints: b.sl,
				Target1Points:  b.t1,
				Target2Points:  b.t2,
				SizeMultiplier: mult[Key{c, g}],
			}
		}
	}
	m, err := New(entries)
	if err != nil {
		// Unreachable: entries is constructed to cover every cell above.
		panic(err)
	}
	return m
}
