package pricesim_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/advisory"
	"github.com/radieske/prediction-rounds/internal/pricesim"
	"github.com/radieske/prediction-rounds/internal/testutil"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

func TestWalkStaysPositiveAndSequenced(t *testing.T) {
	w := pricesim.NewWalk("BTCUSD", testutil.Price("0.05"), 0.5, 7)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var last int64
	for i := 0; i < 500; i++ {
		tick := w.Next(now)
		require.True(t, tick.Price.IsPositive(), "tick %d price %s", i, tick.Price)
		require.Equal(t, last+1, tick.Seq)
		require.Equal(t, "BTCUSD", tick.Symbol)
		last = tick.Seq
	}
	assert.True(t, w.Price().Equal(w.Price().Round(2)))
}

func TestServerStreamsTicks(t *testing.T) {
	s := pricesim.NewServer(zap.NewNop(), pricesim.NewWalk("BTCUSD", testutil.Price("100"), 0.001, 1))
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var tick events.PriceTick
	require.NoError(t, json.Unmarshal(msg, &tick))
	assert.Equal(t, "BTCUSD", tick.Symbol)
	assert.Equal(t, "price-simulator", tick.Source)
	assert.True(t, tick.Price.IsPositive())
	assert.GreaterOrEqual(t, tick.Seq, int64(1))
}

func TestLedgerMockIsIdempotent(t *testing.T) {
	s := pricesim.NewServer(zap.NewNop(), pricesim.NewWalk("BTCUSD", testutil.Price("100"), 0, 1))
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	post := func(key string) int {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/ledger/rounds/r1/resolution", strings.NewReader(`{"roundId":"r1"}`))
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusCreated, post("round_resolved:r1"))
	assert.Equal(t, http.StatusOK, post("round_resolved:r1"))
	assert.Equal(t, http.StatusBadRequest, post(""))
	assert.Equal(t, 1, s.Ledger.Len())
}

func TestLedgerMockAcceptsAdvisoryClient(t *testing.T) {
	s := pricesim.NewServer(zap.NewNop(), pricesim.NewWalk("BTCUSD", testutil.Price("100"), 0, 1))
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	c := advisory.New(ts.URL+"/ledger", time.Second)
	ctx := context.Background()

	require.NoError(t, c.Publish(ctx, events.RoundStarted{RoundID: "r1", Mode: "UP_DOWN"}))
	require.NoError(t, c.Publish(ctx, events.PredictionPlaced{RoundID: "r1", PredictionID: "p1", UserID: "u", AmountCents: 10}))
	require.NoError(t, c.Publish(ctx, events.PredictionPlaced{RoundID: "r1", PredictionID: "p1", UserID: "u", AmountCents: 10}))
	require.NoError(t, c.Publish(ctx, events.RoundCancelled{RoundID: "r1"}))

	assert.Equal(t, 3, s.Ledger.Len())
}
