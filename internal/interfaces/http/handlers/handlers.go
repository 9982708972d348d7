// Package handlers implements the read-only dashboard endpoints the HTTP
// server exposes: health, recent snapshots, plan explanations, and
// scheduler status (spec §6).
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/strikerun/strikerun/internal/application/scheduler"
	"github.com/strikerun/strikerun/internal/domain/candle"
	"github.com/strikerun/strikerun/internal/infrastructure/db"
	"github.com/strikerun/strikerun/internal/persistence"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handlers bundles everything the HTTP routes read from.
type Handlers struct {
	Repo      persistence.Repository
	Scheduler *scheduler.Scheduler
	Buffers   map[string]*candle.Buffer
	DBHealth  func(ctx context.Context) (bool, map[string]any)
	Log       zerolog.Logger
}

// New builds a Handlers bound to the live repository, scheduler, and the
// live candle buffers /api/candles serves directly from.
func New(repo persistence.Repository, sched *scheduler.Scheduler, buffers map[string]*candle.Buffer, dbManager *db.Manager, log zerolog.Logger) *Handlers {
	h := &Handlers{Repo: repo, Scheduler: sched, Buffers: buffers, Log: log}
	if dbManager != nil {
		h.DBHealth = dbManager.Health().Check
	} else {
		h.DBHealth = func(context.Context) (bool, map[string]any) { return true, map[string]any{"status": "disabled"} }
	}
	return h
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Error().Err(err).Msg("handlers: failed to encode response")
	}
}

// Health reports process liveness plus the database connection's health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	healthy, detail := h.DBHealth(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]any{
		"healthy":  healthy,
		"database": detail,
		"time":     time.Now().UTC(),
	})
}

// Status reports the scheduler's last recorded state per symbol.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	symbols := mux.Vars(r)["symbol"]
	if symbols != "" {
		h.writeJSON(w, http.StatusOK, map[string]string{symbols: string(h.Scheduler.State(symbols))})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"scheduler": "running"})
}

// Recent returns the most recent snapshots for a symbol.
func (h *Handlers) Recent(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	snaps, err := h.Repo.Recent(r.Context(), symbol, limit)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, snaps)
}

// Stats returns aggregate win-rate/confidence stats for a symbol over the
// last 24 hours by default.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	since := time.Now().Add(-24 * time.Hour)
	if q := r.URL.Query().Get("since_hours"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			since = time.Now().Add(-time.Duration(n) * time.Hour)
		}
	}

	stats, err := h.Repo.Stats(r.Context(), symbol, since)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Levels reports the current trading decision for a symbol: whether the
// last cadence tick emitted a fresh TRADE, is HOLDing an still-valid
// active position, or is WAITing for data/session open (spec §6
// `/api/levels`, the dashboard's primary decision surface).
func (h *Handlers) Levels(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if symbol == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol is required"})
		return
	}

	state := h.Scheduler.State(symbol)
	ts := h.Scheduler.TradingState(symbol)

	action := "WAIT"
	switch state {
	case scheduler.StateOK:
		action = "TRADE"
	case scheduler.StateHold:
		action = "HOLD"
	}

	resp := map[string]any{
		"symbol":             symbol,
		"action":             action,
		"position_status":    string(state),
		"adaptive_threshold": ts.AdaptiveThreshold,
		"daily_realized_pl":  ts.DailyRealizedPL,
		"last_cadence_ts":    ts.LastCadenceTS,
	}
	if ts.Active != nil {
		resp["plan"] = ts.Active.Plan
		resp["emitted_at"] = ts.Active.EmittedAt
		resp["valid_until"] = ts.Active.ValidUntil
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// candlePoint is one bar of the chart overlay the dashboard's candle view
// renders (spec §6 `/api/candles`: `{candles:[{time,open,high,low,close}],
// last_price}`).
type candlePoint struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Candles returns the live OHLC window for a symbol plus its last traded
// price, the chart overlay the dashboard's candle view reads (spec §6
// `/api/candles`).
func (h *Handlers) Candles(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	buf, ok := h.Buffers[symbol]
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown symbol: " + symbol})
		return
	}

	n := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 {
			n = v
		}
	}

	bars := buf.Snapshot(n) // includes the still-forming live candle
	candles := make([]candlePoint, len(bars))
	var lastPrice float64
	for i, b := range bars {
		candles[i] = candlePoint{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
	}
	if len(bars) > 0 {
		lastPrice = bars[len(bars)-1].Close
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"candles":    candles,
		"last_price": lastPrice,
	})
}

// StreamTicks upgrades to a websocket and pushes each symbol's current
// scheduler state at a fixed interval, the dashboard's live-update feed
// (spec §6 `/ws/stream`). Grounded on the teacher's websocket tick-client
// idiom, inverted: the server pushes instead of a client dialing out.
func (h *Handlers) StreamTicks(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("handlers: websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snapshot := make(map[string]any, len(h.Scheduler.Symbols))
			for _, symbol := range h.Scheduler.Symbols {
				snapshot[symbol] = map[string]any{
					"state":   h.Scheduler.State(symbol),
					"trading": h.Scheduler.TradingState(symbol),
				}
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}

// NotFound is the router's catch-all 404 handler.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.Path})
}
