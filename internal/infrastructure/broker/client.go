// Package broker is the REST client for historical candles, the option
// chain, and the auth token lifecycle the feature engineer and live feed
// depend on. Rate-limited with golang.org/x/time/rate and wrapped by the
// circuit breaker manager per provider (spec §9).
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/strikerun/strikerun/internal/domain"
	"github.com/strikerun/strikerun/internal/domain/candle"
	"github.com/strikerun/strikerun/internal/domain/features"
	"github.com/strikerun/strikerun/internal/infrastructure/circuit"
)

// Config parameterizes one broker endpoint.
type Config struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	APISecret       string        `yaml:"api_secret"`
	RequestsPerSec  float64       `yaml:"requests_per_sec"`
	Burst           int           `yaml:"burst"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	TokenRefreshAhead time.Duration `yaml:"token_refresh_ahead"`
}

// token tracks the broker session token and its expiry.
type token struct {
	value   string
	expires time.Time
}

// Client is the REST client for one broker provider (primary or backup).
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cb      *circuit.Manager
	name    string

	mu  sync.RWMutex
	tok token
}

// New builds a Client bound to a named provider's circuit breaker.
func New(name string, cfg Config, cb *circuit.Manager) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		cb:      cb,
		name:    name,
	}
}

// EnsureToken refreshes the session token if it's absent or within
// TokenRefreshAhead of expiry. Returns domain.ErrAuthFailed on failure.
func (c *Client) EnsureToken(ctx context.Context) error {
	c.mu.RLock()
	needsRefresh := c.tok.value == "" || time.Until(c.tok.expires) < c.cfg.TokenRefreshAhead
	c.mu.RUnlock()
	if !needsRefresh {
		return nil
	}
	return c.ForceRefreshToken(ctx)
}

// ForceRefreshToken requests a fresh session token unconditionally,
// regardless of the current token's remaining validity. Used by the live
// feed controller on a websocket 401/403 before its single retry (spec §4.7,
// §6 token refresh policy).
func (c *Client) ForceRefreshToken(ctx context.Context) error {
	result, err := c.cb.Execute(ctx, c.name, func(ctx context.Context) (any, error) {
		return c.requestToken(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}
	tok := result.(token)

	c.mu.Lock()
	c.tok = tok
	c.mu.Unlock()
	return nil
}

// Token returns the current session token, refreshing it first if it's
// absent or near expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tok.value, nil
}

// ClientID returns the configured broker client/API key, used as the
// websocket subscription's `clientId` query parameter (spec §6).
func (c *Client) ClientID() string {
	return c.cfg.APIKey
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresInS  int    `json:"expires_in"`
}

func (c *Client) requestToken(ctx context.Context) (token, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/session/token", nil)
	if err != nil {
		return token{}, err
	}
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return token{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return token{}, fmt.Errorf("broker: token request status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return token{}, fmt.Errorf("broker: decode token response: %w", err)
	}
	return token{value: tr.AccessToken, expires: time.Now().Add(time.Duration(tr.ExpiresInS) * time.Second)}, nil
}

type candleResponse struct {
	Candles [][]float64 `json:"candles"` // [time, open, high, low, close, volume]
}

// HistoricalCandles fetches the last n 5-minute candles for a symbol,
// going through the circuit breaker and the rate limiter.
func (c *Client) HistoricalCandles(ctx context.Context, symbol string, n int) ([]candle.Candle, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return nil, err
	}

	result, err := c.cb.Execute(ctx, c.name, func(ctx context.Context) (any, error) {
		return c.fetchCandles(ctx, symbol, n)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}
	return result.([]candle.Candle), nil
}

func (c *Client) fetchCandles(ctx context.Context, symbol string, n int) ([]candle.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/historical/%s?interval=5minute&count=%d", c.cfg.BaseURL, symbol, n)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	req.Header.Set("access-token", c.tok.value)
	req.Header.Set("client-id", c.cfg.APIKey)
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker: historical candles status %d", resp.StatusCode)
	}

	var cr candleResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("broker: decode candles: %w", err)
	}

	out := make([]candle.Candle, 0, len(cr.Candles))
	for _, row := range cr.Candles {
		if len(row) < 6 {
			continue
		}
		out = append(out, candle.Candle{
			Time: int64(row[0]), Open: row[1], High: row[2], Low: row[3], Close: row[4], Volume: int64(row[5]),
		})
	}
	return out, nil
}

type optionChainResponse struct {
	PCR                        float64 `json:"pcr"`
	OISkew                     float64 `json:"oi_skew"`
	IVSkew                     float64 `json:"iv_skew"`
	ATMIVRank                  float64 `json:"atm_iv_rank"`
	InstitutionalActivityProxy float64 `json:"institutional_activity_proxy"`
}

// OptionChainSnapshot fetches the current options-derived aggregates for a
// symbol, stamping AgeSeconds as 0 (the caller records receipt time so
// staleness can be measured against later use).
func (c *Client) OptionChainSnapshot(ctx context.Context, symbol string) (features.OptionsSnapshot, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return features.OptionsSnapshot{}, err
	}

	result, err := c.cb.Execute(ctx, c.name, func(ctx context.Context) (any, error) {
		return c.fetchOptionChain(ctx, symbol)
	})
	if err != nil {
		return features.OptionsSnapshot{}, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}
	return result.(features.OptionsSnapshot), nil
}

func (c *Client) fetchOptionChain(ctx context.Context, symbol string) (features.OptionsSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return features.OptionsSnapshot{}, err
	}

	url := fmt.Sprintf("%s/options/%s/chain-summary", c.cfg.BaseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return features.OptionsSnapshot{}, err
	}
	c.mu.RLock()
	req.Header.Set("access-token", c.tok.value)
	req.Header.Set("client-id", c.cfg.APIKey)
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return features.OptionsSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return features.OptionsSnapshot{}, fmt.Errorf("broker: option chain status %d", resp.StatusCode)
	}

	var ocr optionChainResponse
	if err := json.NewDecoder(resp.Body).Decode(&ocr); err != nil {
		return features.OptionsSnapshot{}, fmt.Errorf("broker: decode option chain: %w", err)
	}
	return features.OptionsSnapshot{
		PCR: ocr.PCR, OISkew: ocr.OISkew, IVSkew: ocr.IVSkew,
		ATMIVRank: ocr.ATMIVRank, InstitutionalActivityProxy: ocr.InstitutionalActivityProxy,
	}, nil
}
