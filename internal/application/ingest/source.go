// Package ingest wires the live candle buffers, broker option-chain
// lookups, and per-symbol session bookkeeping into the single
// scheduler.Source the cadence loop consumes each tick.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/strikerun/strikerun/internal/domain/candle"
	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/infrastructure/broker"
	"github.com/strikerun/strikerun/internal/infrastructure/cache"
)

// optionChainStaleAfter mirrors the engineer's 5-minute staleness cutoff
// (spec §4.1); optionChainCacheTTL is how long a cached snapshot is kept
// around as a fallback once the broker stops serving fresh ones.
const (
	optionChainStaleAfter = 5 * time.Minute
	optionChainCacheTTL   = 30 * time.Minute
)

// Source implements scheduler.Source against live candle.Buffers and the
// broker's option-chain endpoint, tracking a rolling outcome history per
// symbol for the session-state features.
type Source struct {
	Buffers map[string]*candle.Buffer
	Broker  *broker.Client
	Cache   cache.Cache

	mu       sync.Mutex
	sessions map[string]features.SessionState
}

// NewSource builds a Source over the given per-symbol buffers. c may be nil,
// in which case option-chain fallback on a broker error is disabled.
func NewSource(buffers map[string]*candle.Buffer, b *broker.Client, c cache.Cache) *Source {
	return &Source{
		Buffers:  buffers,
		Broker:   b,
		Cache:    c,
		sessions: make(map[string]features.SessionState, len(buffers)),
	}
}

// Bars returns the full candle window currently held for symbol.
func (s *Source) Bars(symbol string) []candle.Candle {
	buf, ok := s.Buffers[symbol]
	if !ok {
		return nil
	}
	return buf.Snapshot(0)
}

// LastPrice returns the most recent traded price known for symbol, from
// its live (possibly still-forming) candle, satisfying watcher.PriceSource.
func (s *Source) LastPrice(symbol string) (float64, bool) {
	buf, ok := s.Buffers[symbol]
	if !ok {
		return 0, false
	}
	c, ok := buf.Live()
	if !ok {
		return 0, false
	}
	return c.Close, true
}

// OptionsSnapshot fetches the latest option-chain summary from the broker.
// On a broker error it falls back to the most recently cached snapshot,
// with AgeSeconds set to its real age so the feature engineer can mark
// feature_stale once that age passes 5 minutes (spec §4.1). With no broker
// success and no cached snapshot to fall back to, it returns a sentinel
// already past the staleness cutoff.
func (s *Source) OptionsSnapshot(ctx context.Context, symbol string) (features.OptionsSnapshot, error) {
	snap, err := s.Broker.OptionChainSnapshot(ctx, symbol)
	if err == nil {
		s.storeOptionChain(ctx, symbol, snap)
		return snap, nil
	}
	if cached, ok := s.loadOptionChain(ctx, symbol); ok {
		return cached, err
	}
	return features.OptionsSnapshot{AgeSeconds: optionChainStaleAfter.Seconds() + 1}, err
}

type cachedOptionChain struct {
	Snapshot  features.OptionsSnapshot `json:"snapshot"`
	FetchedAt time.Time                `json:"fetched_at"`
}

func optionChainCacheKey(symbol string) string { return "optionchain:" + symbol }

func (s *Source) storeOptionChain(ctx context.Context, symbol string, snap features.OptionsSnapshot) {
	if s.Cache == nil {
		return
	}
	b, err := json.Marshal(cachedOptionChain{Snapshot: snap, FetchedAt: time.Now()})
	if err != nil {
		return
	}
	s.Cache.Set(ctx, optionChainCacheKey(symbol), b, optionChainCacheTTL)
}

func (s *Source) loadOptionChain(ctx context.Context, symbol string) (features.OptionsSnapshot, bool) {
	if s.Cache == nil {
		return features.OptionsSnapshot{}, false
	}
	b, ok := s.Cache.Get(ctx, optionChainCacheKey(symbol))
	if !ok {
		return features.OptionsSnapshot{}, false
	}
	var cached cachedOptionChain
	if err := json.Unmarshal(b, &cached); err != nil {
		return features.OptionsSnapshot{}, false
	}
	snap := cached.Snapshot
	snap.AgeSeconds = time.Since(cached.FetchedAt).Seconds()
	return snap, true
}

// SessionState returns the rolling win/loss bookkeeping for symbol.
func (s *Source) SessionState(symbol string) features.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[symbol]
}

// OpenRiskPct is a placeholder proxy until a live position tracker is
// wired in; 0 means "no open position constrains sizing".
func (s *Source) OpenRiskPct(symbol string) float64 {
	return 0
}

// RecordOutcome folds a realized trade outcome into the rolling session
// state, called by the outcome watcher after each resolution.
func (s *Source) RecordOutcome(symbol string, won bool, pnlProxy float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.sessions[symbol]
	st.SessionPnLProxy += pnlProxy
	if won {
		st.WinStreak++
		st.LossStreak = 0
	} else {
		st.LossStreak++
		st.WinStreak = 0
		st.RecentLossCount++
	}
	if st.LossStreak >= 3 {
		st.FailureWindowCount++
	}
	s.sessions[symbol] = st
}
