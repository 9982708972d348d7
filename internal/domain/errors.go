// Package domain holds sentinel error kinds shared across the pipeline
// (spec §7, Error Handling Design) and common cross-cutting value types.
package domain

import "errors"

var (
	// ErrInsufficientData is returned by the feature engineer when fewer
	// than 200 candles are available.
	ErrInsufficientData = errors.New("insufficient data: need at least 200 candles")

	// ErrFeatureSchemaMismatch is returned by the predictor when the loaded
	// model's expected feature names do not match the 74-slot schema.
	ErrFeatureSchemaMismatch = errors.New("feature schema mismatch")

	// ErrModelNotLoaded is returned by the predictor when no model artifact
	// has been loaded yet.
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrDataUnavailable is surfaced after broker retries are exhausted;
	// the pipeline skips the cadence tick without emitting a snapshot.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrAuthFailed is surfaced when token refresh itself fails; halts the
	// ingestor with an operator-visible status.
	ErrAuthFailed = errors.New("broker authentication failed")

	// ErrRepositoryWrite is fatal for a single pipeline invocation; the
	// snapshot is discarded (never partially written).
	ErrRepositoryWrite = errors.New("repository write failed")

	// ErrMarketClosed signals the cadence scheduler should no-op.
	ErrMarketClosed = errors.New("market closed")
)
