package candle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferApplyTick_SameBarUpdatesLiveCandle(t *testing.T) {
	b := NewBuffer(10)
	b.ApplyTick(1000*BarSeconds, 100.0)
	b.ApplyTick(1000*BarSeconds+10, 105.0)
	b.ApplyTick(1000*BarSeconds+20, 95.0)

	live, ok := b.Live()
	require.True(t, ok)
	assert.Equal(t, int64(1000*BarSeconds), live.Time)
	assert.Equal(t, 100.0, live.Open)
	assert.Equal(t, 105.0, live.High)
	assert.Equal(t, 95.0, live.Low)
	assert.Equal(t, 95.0, live.Close)
	assert.Equal(t, 1, b.Len())
}

func TestBufferApplyTick_NewBarSealsPrevious(t *testing.T) {
	b := NewBuffer(10)
	b.ApplyTick(1000*BarSeconds, 100.0)
	b.ApplyTick(1001*BarSeconds, 110.0)

	bars := b.Snapshot(0)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Close)
	assert.Equal(t, 110.0, bars[1].Open)
}

func TestBufferApplyTick_LateTickDropped(t *testing.T) {
	b := NewBuffer(10)
	b.ApplyTick(1001*BarSeconds, 100.0)
	b.ApplyTick(1000*BarSeconds, 90.0) // late: before the live candle's bar

	assert.Equal(t, int64(1), b.LateTicks())
	live, _ := b.Live()
	assert.Equal(t, int64(1001*BarSeconds), live.Time)
}

func TestBufferRespectsCapacity(t *testing.T) {
	b := NewBuffer(3)
	for i := int64(0); i < 5; i++ {
		b.ApplyTick(i*BarSeconds, float64(i))
	}
	assert.Equal(t, 3, b.Len())
}

func TestCandleValidate(t *testing.T) {
	valid := Candle{Time: 300, Open: 10, High: 12, Low: 9, Close: 11}
	assert.NoError(t, valid.Validate())

	unaligned := Candle{Time: 301, Open: 10, High: 12, Low: 9, Close: 11}
	assert.ErrorIs(t, unaligned.Validate(), ErrNotAligned)

	outOfOrder := Candle{Time: 300, Open: 10, High: 9, Low: 11, Close: 10}
	assert.Error(t, outOfOrder.Validate())
}

func TestBarStart(t *testing.T) {
	assert.Equal(t, int64(300), BarStart(305))
	assert.Equal(t, int64(300), BarStart(599))
	assert.Equal(t, int64(600), BarStart(600))
}
