package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/strikerun/strikerun/internal/application/pipeline"
	"github.com/strikerun/strikerun/internal/domain/candle"
	"github.com/strikerun/strikerun/internal/domain/features"
)

type fakeSource struct {
	bars []candle.Candle
}

func (f fakeSource) Bars(string) []candle.Candle { return f.bars }
func (f fakeSource) OptionsSnapshot(context.Context, string) (features.OptionsSnapshot, error) {
	return features.OptionsSnapshot{}, nil
}
func (f fakeSource) SessionState(string) features.SessionState { return features.SessionState{} }
func (f fakeSource) OpenRiskPct(string) float64                { return 0 }

type alwaysOpen struct{}

func (alwaysOpen) IsOpen(time.Time) bool { return true }

type alwaysClosed struct{}

func (alwaysClosed) IsOpen(time.Time) bool { return false }

func TestRunOnce_HoldsWhenMarketClosed(t *testing.T) {
	s := New([]string{"NIFTY"}, &pipeline.Pipeline{}, fakeSource{}, alwaysClosed{}, zerolog.Nop())
	s.RunOnce(context.Background(), time.Now())
	assert.Equal(t, StateHold, s.State("NIFTY"))
}

func TestRunOnce_WaitsWithoutEnoughBars(t *testing.T) {
	s := New([]string{"NIFTY"}, &pipeline.Pipeline{}, fakeSource{bars: make([]candle.Candle, 5)}, alwaysOpen{}, zerolog.Nop())
	s.RunOnce(context.Background(), time.Now())
	assert.Equal(t, StateWait, s.State("NIFTY"))
}

func TestNextBoundary_AlignsToQuarterHour(t *testing.T) {
	from := time.Date(2026, 7, 29, 10, 3, 0, 0, time.UTC)
	next := nextBoundary(from, 15)
	assert.Equal(t, time.Date(2026, 7, 29, 10, 15, 0, 0, time.UTC), next)
}
