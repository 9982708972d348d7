// Package circuit wraps broker REST/WS calls behind per-provider circuit
// breakers so a flaky upstream degrades gracefully instead of cascading
// into the pipeline. Grounded on the teacher's CircuitBreakerManager,
// generalized from four crypto exchanges to the primary/backup broker pair
// spec §9 describes.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Config parameterizes one provider's breaker.
type Config struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ErrorRateThreshold  float64
	ConsecutiveFailures uint32
}

// Status is a point-in-time snapshot of a breaker for the health endpoint.
type Status struct {
	Name                string
	State               string
	Requests            uint32
	TotalFailures       uint32
	ConsecutiveFailures uint32
	ErrorRatePct        float64
}

// Manager owns one gobreaker.CircuitBreaker per named provider plus its
// ordered fallback chain.
type Manager struct {
	mu        sync.RWMutex
	breakers  map[string]*gobreaker.CircuitBreaker
	configs   map[string]Config
	fallbacks map[string][]string
	log       zerolog.Logger
}

// NewManager builds an empty Manager; providers register via Register.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		configs:   make(map[string]Config),
		fallbacks: make(map[string][]string),
		log:       log.With().Str("component", "circuit").Logger(),
	}
}

// Register installs a breaker for the given provider name with an ordered
// fallback chain of other registered provider names to try while open.
func (m *Manager) Register(name string, cfg Config, fallbackChain []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[name] = cfg
	m.fallbacks[name] = fallbackChain
	m.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: tripCondition(cfg),
		OnStateChange: func(bname string, from, to gobreaker.State) {
			m.log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

// Execute runs fn through the named provider's breaker, falling back to
// the next provider in its chain if the breaker is open.
func (m *Manager) Execute(ctx context.Context, provider string, fn func(ctx context.Context) (any, error)) (any, error) {
	m.mu.RLock()
	breaker, ok := m.breakers[provider]
	chain := m.fallbacks[provider]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("circuit: no breaker registered for provider %q", provider)
	}

	result, err := breaker.Execute(func() (any, error) { return fn(ctx) })
	if err == nil {
		return result, nil
	}
	if breaker.State() != gobreaker.StateOpen {
		return nil, err
	}
	return m.executeFallback(ctx, chain, fn)
}

func (m *Manager) executeFallback(ctx context.Context, chain []string, fn func(ctx context.Context) (any, error)) (any, error) {
	for _, name := range chain {
		m.mu.RLock()
		b, ok := m.breakers[name]
		m.mu.RUnlock()
		if !ok || b.State() == gobreaker.StateOpen {
			continue
		}
		result, err := b.Execute(func() (any, error) { return fn(ctx) })
		if err == nil {
			return result, nil
		}
	}
	return nil, fmt.Errorf("circuit: all providers in fallback chain failed")
}

// Status returns the current snapshot of a provider's breaker.
func (m *Manager) Status(provider string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[provider]
	if !ok {
		return Status{}, false
	}
	counts := b.Counts()
	var rate float64
	if counts.Requests > 0 {
		rate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
	}
	return Status{
		Name: m.configs[provider].Name, State: b.State().String(),
		Requests: counts.Requests, TotalFailures: counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures, ErrorRatePct: rate,
	}, true
}

func tripCondition(cfg Config) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests >= 10 {
			rate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			if rate >= cfg.ErrorRateThreshold {
				return true
			}
		}
		return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
	}
}

// DefaultConfigs returns the primary/backup broker breaker settings used
// unless an operator overrides them via config.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		"primary": {
			Name: "primary-broker", MaxRequests: 5, Interval: 60 * time.Second,
			Timeout: 30 * time.Second, ErrorRateThreshold: 30, ConsecutiveFailures: 3,
		},
		"backup": {
			Name: "backup-broker", MaxRequests: 3, Interval: 60 * time.Second,
			Timeout: 45 * time.Second, ErrorRateThreshold: 25, ConsecutiveFailures: 2,
		},
	}
}
