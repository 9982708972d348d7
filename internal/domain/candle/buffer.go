package candle

import (
	"sync"
)

// MinCapacity is one more than 5 trading days of 5-minute bars
// (75 bars/day * 5 = 375).
const MinCapacity = 376

// Buffer is a bounded, ordered sequence of the most recent candles. The
// last element is the live candle still being aggregated from ticks; every
// other element is finalized. Single-writer (the tick ingestor or a
// backfill load), multi-reader (scheduler, HTTP handlers) via short
// critical sections — callers get a copy, never a live reference.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	bars     []Candle // ring, oldest first
	lateTick int64    // counter: ticks dropped for ts < live candle time
}

// NewBuffer creates an empty buffer with the given capacity (at least
// MinCapacity is enforced by callers that need the full feature-engineering
// window; the buffer itself only requires capacity >= 1).
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = MinCapacity
	}
	return &Buffer{capacity: capacity, bars: make([]Candle, 0, capacity)}
}

// Seed replaces the buffer contents wholesale, used at startup when pulling
// historical candles from the broker. The last candle becomes the live
// candle; if seeded with finalized history only, callers should append an
// open live candle afterward via Upsert.
func (b *Buffer) Seed(bars []Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(bars) > b.capacity {
		bars = bars[len(bars)-b.capacity:]
	}
	b.bars = append(b.bars[:0], bars...)
}

// Len returns the number of candles currently held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bars)
}

// Snapshot returns a value copy of the last n candles (or all if n <= 0),
// including the live candle. Safe to read while the ingestor keeps
// aggregating concurrently.
func (b *Buffer) Snapshot(n int) []Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.bars) {
		n = len(b.bars)
	}
	out := make([]Candle, n)
	copy(out, b.bars[len(b.bars)-n:])
	return out
}

// Live returns a value copy of the live (still-aggregating) candle, or
// false if the buffer is empty.
func (b *Buffer) Live() (Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bars) == 0 {
		return Candle{}, false
	}
	return b.bars[len(b.bars)-1], true
}

// ApplyTick folds one tick into the live candle, sealing the previous live
// candle and opening a new one if the tick belongs to a later bar. Ticks
// whose bar is older than the current live candle are dropped and counted
// (late-tick counter, spec §5 ordering guarantee (a)).
func (b *Buffer) ApplyTick(tsSeconds int64, price float64) {
	barStart := BarStart(tsSeconds)

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.bars) == 0 {
		b.bars = append(b.bars, Candle{Time: barStart, Open: price, High: price, Low: price, Close: price})
		return
	}

	live := &b.bars[len(b.bars)-1]
	switch {
	case barStart == live.Time:
		if price > live.High {
			live.High = price
		}
		if price < live.Low {
			live.Low = price
		}
		live.Close = price
	case barStart > live.Time:
		b.bars = append(b.bars, Candle{Time: barStart, Open: price, High: price, Low: price, Close: price})
		if len(b.bars) > b.capacity {
			b.bars = b.bars[len(b.bars)-b.capacity:]
		}
	default:
		b.lateTick++
	}
}

// AddVolume accumulates traded volume into the live candle.
func (b *Buffer) AddVolume(qty int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bars) == 0 {
		return
	}
	b.bars[len(b.bars)-1].Volume += qty
}

// LateTicks returns the count of ticks dropped for arriving before the
// current live candle's bar.
func (b *Buffer) LateTicks() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lateTick
}
