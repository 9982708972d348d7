package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikerun/strikerun/internal/domain/candle"
)

func TestCandles_ReturnsOHLCAndLastPrice(t *testing.T) {
	buf := candle.NewBuffer(10)
	buf.Seed([]candle.Candle{
		{Time: 0, Open: 100, High: 105, Low: 99, Close: 102, Volume: 10},
		{Time: candle.BarSeconds, Open: 102, High: 108, Low: 101, Close: 107, Volume: 12},
	})

	h := &Handlers{Buffers: map[string]*candle.Buffer{"NIFTY": buf}, Log: zerolog.Nop()}

	router := mux.NewRouter()
	router.HandleFunc("/api/candles/{symbol}", h.Candles)

	req := httptest.NewRequest(http.MethodGet, "/api/candles/NIFTY", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Candles []candlePoint `json:"candles"`
		LastPrice float64     `json:"last_price"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Candles, 2)
	assert.Equal(t, 107.0, body.LastPrice)
	assert.Equal(t, 108.0, body.Candles[1].High)
}

func TestCandles_UnknownSymbolReturns404(t *testing.T) {
	h := &Handlers{Buffers: map[string]*candle.Buffer{}, Log: zerolog.Nop()}

	router := mux.NewRouter()
	router.HandleFunc("/api/candles/{symbol}", h.Candles)

	req := httptest.NewRequest(http.MethodGet, "/api/candles/SENSEX", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
