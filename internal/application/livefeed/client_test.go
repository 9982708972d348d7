package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu    sync.Mutex
	ticks []float64
}

func (s *fakeSink) ApplyTick(_ int64, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, price)
}
func (s *fakeSink) AddVolume(int64) {}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

type fakeAuth struct {
	token        string
	clientID     string
	refreshCalls int32
}

func (a *fakeAuth) Token(context.Context) (string, error) { return a.token, nil }
func (a *fakeAuth) ClientID() string                       { return a.clientID }
func (a *fakeAuth) ForceRefreshToken(context.Context) error {
	atomic.AddInt32(&a.refreshCalls, 1)
	a.token = "refreshed-token"
	return nil
}

var upgrader = websocket.Upgrader{}

// TestDialWithAuthRetry_RefreshesOnceOn401 exercises spec §8 scenario 5: a
// websocket handshake rejected with 401 triggers exactly one forced token
// refresh and one retry, after which the connection succeeds.
func TestDialWithAuthRetry_RefreshesOnceOn401(t *testing.T) {
	auth := &fakeAuth{token: "stale-token", clientID: "CL1"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "stale-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		time.Sleep(20 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(wsURL, zerolog.Nop(), auth)

	conn, err := c.dialWithAuthRetry(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.EqualValues(t, 1, auth.refreshCalls)
}

// TestClientRun_AggregatesTicksIntoSink checks that every tick sent over a
// connection reaches the subscribed sink without any dropped messages.
func TestClientRun_AggregatesTicksIntoSink(t *testing.T) {
	prices := []float64{100, 102, 105}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, p := range prices {
			msg, _ := json.Marshal(wireTick{Symbol: "NIFTY", Time: time.Now().Unix(), Price: p})
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(wsURL, zerolog.Nop(), nil)
	sink := &fakeSink{}
	c.Subscribe("NIFTY", sink)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	assert.Equal(t, len(prices), sink.count())
}
