package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/infrastructure/cache"
)

func TestOptionChainCache_StoreThenLoadReportsAge(t *testing.T) {
	s := &Source{Cache: cache.New(cache.Config{Backend: "memory"})}
	ctx := context.Background()

	snap := features.OptionsSnapshot{PCR: 1.2, OISkew: 0.1}
	s.storeOptionChain(ctx, "NIFTY", snap)

	cached, ok := s.loadOptionChain(ctx, "NIFTY")
	require.True(t, ok)
	assert.Equal(t, 1.2, cached.PCR)
	assert.InDelta(t, 0, cached.AgeSeconds, 1)
}

func TestOptionChainCache_MissingKeyReturnsFalse(t *testing.T) {
	s := &Source{Cache: cache.New(cache.Config{Backend: "memory"})}
	_, ok := s.loadOptionChain(context.Background(), "SENSEX")
	assert.False(t, ok)
}

func TestOptionChainCache_NilCacheNeverHits(t *testing.T) {
	s := &Source{}
	s.storeOptionChain(context.Background(), "NIFTY", features.OptionsSnapshot{PCR: 1})
	_, ok := s.loadOptionChain(context.Background(), "NIFTY")
	assert.False(t, ok)
}

func TestOptionChainCache_AgeReflectsElapsedTime(t *testing.T) {
	s := &Source{Cache: cache.New(cache.Config{Backend: "memory"})}
	ctx := context.Background()
	s.storeOptionChain(ctx, "NIFTY", features.OptionsSnapshot{PCR: 1})

	cached, ok := s.loadOptionChain(ctx, "NIFTY")
	require.True(t, ok)
	assert.Less(t, cached.AgeSeconds, optionChainStaleAfter.Seconds())

	time.Sleep(time.Millisecond)
	cached2, ok := s.loadOptionChain(ctx, "NIFTY")
	require.True(t, ok)
	assert.GreaterOrEqual(t, cached2.AgeSeconds, cached.AgeSeconds)
}
