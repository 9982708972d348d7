// Package db manages the Postgres connection pool and exposes the
// snapshot repository and a health checker built from it. Grounded on the
// teacher's db.Manager/healthChecker pair.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/strikerun/strikerun/internal/persistence"
	"github.com/strikerun/strikerun/internal/persistence/postgres"
)

// Config holds database connection configuration.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Enabled         bool          `yaml:"enabled"`
}

// DefaultConfig returns reasonable pool defaults; persistence is disabled
// unless an operator explicitly turns it on.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    10 * time.Second,
		Enabled:         false,
	}
}

// Manager owns the pooled connection and the repository built on top of it.
type Manager struct {
	db     *sqlx.DB
	config Config
	repo   persistence.Repository
	health *healthChecker
}

// NewManager opens the pool (if enabled), pings it, and wires the snapshot
// repository. A disabled manager still returns successfully with a nil
// repository; the pipeline then runs without persistence, writing no
// snapshots and reading no history.
func NewManager(cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{config: cfg, health: &healthChecker{enabled: false}}, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db: DSN is required when persistence is enabled")
	}

	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	return &Manager{
		db:     conn,
		config: cfg,
		repo:   postgres.NewSnapshotRepository(conn, cfg.QueryTimeout),
		health: &healthChecker{enabled: true, db: conn, timeout: cfg.QueryTimeout},
	}, nil
}

// Repository returns the wired snapshot repository, or nil if disabled.
func (m *Manager) Repository() persistence.Repository { return m.repo }

// Health returns the connection's health checker.
func (m *Manager) Health() *healthChecker { return m.health }

// DB exposes the underlying pool, e.g. for running migrations.
func (m *Manager) DB() *sqlx.DB { return m.db }

// Enabled reports whether persistence is turned on and connected.
func (m *Manager) Enabled() bool { return m.config.Enabled && m.db != nil }

// Close releases the pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker reports pool health and stats for the HTTP /health endpoint.
type healthChecker struct {
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
}

// Check pings the pool and reports connection-pool statistics.
func (h *healthChecker) Check(ctx context.Context) (healthy bool, detail map[string]any) {
	if !h.enabled {
		return true, map[string]any{"status": "disabled"}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	healthy = true
	errs := []string{}
	if err := h.db.PingContext(ctx); err != nil {
		healthy = false
		errs = append(errs, err.Error())
	}

	stats := h.db.Stats()
	return healthy, map[string]any{
		"status":          "enabled",
		"errors":          errs,
		"response_time_ms": time.Since(start).Milliseconds(),
		"max_open":        stats.MaxOpenConnections,
		"open":            stats.OpenConnections,
		"in_use":          stats.InUse,
		"idle":            stats.Idle,
		"wait_count":      stats.WaitCount,
	}
}
