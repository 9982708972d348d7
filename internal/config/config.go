// Package config loads and validates the YAML configuration that drives
// symbol selection, broker/db/cache wiring, the parameter matrix, and
// filter thresholds. Grounded on the teacher's ProvidersConfig
// Load/Validate pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strikerun/strikerun/internal/domain/filters"
	"github.com/strikerun/strikerun/internal/domain/matrix"
	"github.com/strikerun/strikerun/internal/domain/quality"
	"github.com/strikerun/strikerun/internal/domain/regime"
	"github.com/strikerun/strikerun/internal/infrastructure/broker"
	"github.com/strikerun/strikerun/internal/infrastructure/cache"
	"github.com/strikerun/strikerun/internal/infrastructure/db"
)

// SymbolConfig is one tradeable instrument's static parameters (spec §2,
// §6 multi-symbol support).
type SymbolConfig struct {
	Name       string  `yaml:"name"`
	StrikeStep float64 `yaml:"strike_step"`
	Lot        int     `yaml:"lot_size"`
	BaseLots   float64 `yaml:"base_lots"`
}

// ThresholdsConfig mirrors filters.Thresholds for YAML overrides.
type ThresholdsConfig struct {
	TrendOpposedMaxConfidence float64 `yaml:"trend_opposed_max_confidence"`
	EntryGoodATR              float64 `yaml:"entry_good_atr"`
	EntryFairATR              float64 `yaml:"entry_fair_atr"`
	TrendNeutralBand          float64 `yaml:"trend_neutral_band"`
}

// RiskConfig holds the per-trade and daily loss caps and the adaptive
// confidence threshold's floor/ceiling (spec §6, §9 "adaptive threshold").
// ConfidenceStep is the per-stop-loss raise (spec §4.5 filter 2, "+2 per
// loss"); ConfidenceDecayStep is the separate decay ("-1") applied on each
// new calendar day.
type RiskConfig struct {
	MaxPerTradeLoss     float64 `yaml:"max_per_trade_loss"`
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	ConfidenceFloor     float64 `yaml:"confidence_floor"`
	ConfidenceCeiling   float64 `yaml:"confidence_ceiling"`
	ConfidenceStep      float64 `yaml:"confidence_step"`
	ConfidenceDecayStep float64 `yaml:"confidence_decay_step"`
}

// ServerConfig configures the HTTP dashboard/metrics surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config is the full application configuration tree.
type Config struct {
	Symbols             []SymbolConfig           `yaml:"symbols"`
	Brokers             map[string]broker.Config `yaml:"brokers"`
	LiveFeedURL         string                   `yaml:"live_feed_url"`
	Database            db.Config                `yaml:"database"`
	Cache               cache.Config             `yaml:"cache"`
	Thresholds          ThresholdsConfig         `yaml:"filter_thresholds"`
	Risk                RiskConfig               `yaml:"risk"`
	Matrix              map[string]matrix.Cell   `yaml:"matrix"` // key: "<condition>/<grade>"
	Server              ServerConfig             `yaml:"server"`
	LogLevel            string                   `yaml:"log_level"`
	RetentionDays       int                      `yaml:"retention_days"`
	CadenceSeconds      int                      `yaml:"cadence_seconds"`
	LevelValiditySecs   int                      `yaml:"level_validity_seconds"`
}

// Default returns a config usable for local development: in-memory cache,
// persistence disabled, conservative thresholds, and the built-in matrix.
func Default() Config {
	return Config{
		Symbols: []SymbolConfig{
			{Name: "NIFTY", StrikeStep: 50, Lot: 75, BaseLots: 1},
			{Name: "SENSEX", StrikeStep: 100, Lot: 20, BaseLots: 1},
		},
		Database:   db.DefaultConfig(),
		Cache:      cache.Config{Backend: "memory"},
		Thresholds: ThresholdsConfig{TrendOpposedMaxConfidence: 72, EntryGoodATR: 0.5, EntryFairATR: 1.0, TrendNeutralBand: 0.05},
		Risk: RiskConfig{
			MaxPerTradeLoss: 5000, MaxDailyLoss: 15000,
			ConfidenceFloor: 60, ConfidenceCeiling: 75,
			ConfidenceStep: 2, ConfidenceDecayStep: 1,
		},
		Server:            ServerConfig{Addr: ":8080", ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, ShutdownTimeout: 15 * time.Second},
		LogLevel:          "info",
		RetentionDays:     90,
		CadenceSeconds:    15 * 60,
		LevelValiditySecs: 15 * 60,
	}
}

// Load reads and validates configuration from a YAML file decoded over
// Default(): any field the file omits keeps its Default() value, including
// symbols and the server address.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Validate checks structural invariants the rest of the system assumes.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}
	for _, s := range c.Symbols {
		if s.Name == "" {
			return fmt.Errorf("symbol entry missing name")
		}
		if s.StrikeStep <= 0 {
			return fmt.Errorf("symbol %s: strike_step must be positive", s.Name)
		}
	}
	if c.Risk.ConfidenceFloor <= 0 || c.Risk.ConfidenceFloor > 100 {
		return fmt.Errorf("risk.confidence_floor must be in (0,100]")
	}
	if c.Risk.ConfidenceCeiling < c.Risk.ConfidenceFloor {
		return fmt.Errorf("risk.confidence_ceiling must be >= confidence_floor")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

// ToFilterThresholds converts the YAML-overridable thresholds into the
// filters package's runtime shape.
func (t ThresholdsConfig) ToFilterThresholds() filters.Thresholds {
	return filters.Thresholds{
		TrendOpposedMaxConfidence: t.TrendOpposedMaxConfidence,
		EntryGoodATR:              t.EntryGoodATR,
		EntryFairATR:              t.EntryFairATR,
		TrendNeutralBand:          t.TrendNeutralBand,
	}
}

// BuildMatrix converts the YAML matrix override map into a validated
// matrix.Matrix, falling back to matrix.Default() when no override section
// is present.
func (c Config) BuildMatrix() (*matrix.Matrix, error) {
	if len(c.Matrix) == 0 {
		return matrix.Default(), nil
	}
	entries := make(map[matrix.Key]matrix.Cell, len(c.Matrix))
	for k, v := range c.Matrix {
		key, err := parseMatrixKey(k)
		if err != nil {
			return nil, err
		}
		entries[key] = v
	}
	return matrix.New(entries)
}

func parseMatrixKey(s string) (matrix.Key, error) {
	var condPart, gradePart string
	for i, r := range s {
		if r == '/' {
			condPart, gradePart = s[:i], s[i+1:]
			break
		}
	}
	if condPart == "" || gradePart == "" {
		return matrix.Key{}, fmt.Errorf("config: matrix key %q must be \"<condition>/<grade>\"", s)
	}
	return matrix.Key{Condition: regime.Condition(condPart), Grade: quality.Grade(gradePart)}, nil
}
