package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"meridian/internal/domain"
	"meridian/internal/live"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
	"meridian/pkg/meridian"
)

// closeSource serves a fixed close series per symbol as daily bars.
type closeSource map[string][]float64

func (c closeSource) GetBars(_ context.Context, symbol string, _ domain.Timeframe, start, _ time.Time) ([]domain.Bar, error) {
	closes := c[symbol]
	bars := make([]domain.Bar, len(closes))
	for i, v := range closes {
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      v, High: v, Low: v, Close: v,
			Volume: 1000,
		}
	}
	return bars, nil
}

type fixture struct {
	srv    *Server
	db     *store.SQLiteStore
	status *live.StatusModel
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := strategy.NewRegistry()
	builtins.Register(reg, 2, 3)
	src := closeSource{
		"UP":    {10, 10, 10, 9, 8, 12, 14, 16, 12, 8, 6},
		"FLAT":  {100, 100, 100, 100, 100, 100},
		"SHORT": {1, 2},
	}
	bt := strategy.NewBacktester(src, reg, strategy.NewSimulator(), 2).WithRunStore(db)

	model := live.NewStatusModel()
	srv := NewServer(Options{
		Backtester: bt,
		Runs:       db,
		Orders:     db,
		Status:     model,
		Defaults: BacktestDefaults{
			Strategy: "sma-cross",
			Start:    time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
			End:      time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.RunHub(ctx)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &fixture{srv: srv, db: db, status: model, http: hs}
}

func (f *fixture) post(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.http.URL+"/api/backtest", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestBacktestValidation(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]string{
		"no symbols":       `{"timeframe":"DAILY"}`,
		"blank symbols":    `{"symbols":["  "],"timeframe":"DAILY"}`,
		"no timeframe":     `{"symbols":["UP"]}`,
		"bad timeframe":    `{"symbols":["UP"],"timeframe":"WEEKLY"}`,
		"unknown strategy": `{"symbols":["UP"],"timeframe":"DAILY","strategy":"rsi"}`,
		"bad date":         `{"symbols":["UP"],"timeframe":"DAILY","start":"01/02/2023"}`,
		"not json":         `symbols=UP`,
	} {
		resp := f.post(t, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		var e meridian.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&e), name)
		assert.NotEmpty(t, e.Error, name)
	}
}

func TestBacktestAndRuns(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, `{"symbols":["up","SHORT","flat"],"timeframe":"DAILY"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out meridian.BacktestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	require.Len(t, out.Results, 2, "SHORT lacks the slow window and is dropped")
	assert.Equal(t, "UP", out.Results[0].Symbol)
	assert.Equal(t, "FLAT", out.Results[1].Symbol)
	assert.Positive(t, out.Results[0].Metrics.TotalTrades)
	assert.Zero(t, out.Results[1].Metrics.TotalTrades)
	assert.Nil(t, out.Results[1].Metrics.SharpeRatio, "flat equity has no variance")
	assert.NotZero(t, out.Results[0].RunID)

	up := out.Results[0]
	require.Len(t, up.Equity, 11, "one equity point per bar")
	require.Len(t, up.DailyReturns, 11)
	assert.True(t, up.Equity[0].Date.Equal(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, strategy.DefaultStartingCash, up.Equity[0].Equity)
	assert.Zero(t, up.DailyReturns[0].Return)
	assert.InDelta(t, up.Metrics.FinalEquity, up.Equity[len(up.Equity)-1].Equity, 1e-9)

	var runs meridian.RunsResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/backtest/runs?limit=10", &runs))
	require.Len(t, runs.Runs, 2)
	for _, r := range runs.Runs {
		assert.Equal(t, "sma-cross", r.Strategy)
		assert.Equal(t, "1Day", r.Timeframe)
	}
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/backtest/runs?limit=-1", nil))
}

func TestBacktestAllSymbolsTooShort(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, `{"symbols":["SHORT"],"timeframe":"DAILY"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out meridian.BacktestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
}

func TestOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, rec := range []store.OrderRecord{
		{CreatedAt: time.Now().UTC(), Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 5, Status: domain.ResultSubmitted, OrderID: "o-1"},
		{CreatedAt: time.Now().UTC(), Symbol: "TSLA", Side: domain.OrderSideSell, Qty: 2, Status: domain.ResultRejected, Error: "not shortable"},
	} {
		require.NoError(t, f.db.SaveOrder(ctx, &rec))
	}

	var all meridian.OrdersResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/orders", &all))
	assert.Len(t, all.Orders, 2)

	var rejected meridian.OrdersResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/orders?status=rejected", &rejected))
	require.Len(t, rejected.Orders, 1)
	assert.Equal(t, "not shortable", rejected.Orders[0].Error)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/orders?status=filled", nil))
}

func TestUnconfiguredRoutes(t *testing.T) {
	hs := httptest.NewServer(NewServer(Options{}).Handler())
	defer hs.Close()

	for _, path := range []string{"/api/backtest/runs", "/api/orders", "/api/status", "/ws/status"} {
		resp, err := http.Get(hs.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
	resp, err := http.Post(hs.URL+"/api/backtest", "application/json", bytes.NewBufferString(`{"symbols":["A"],"timeframe":"DAILY"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusWebSocket(t *testing.T) {
	f := newFixture(t)
	f.status.OnStatus("Market is closed. Opens in 45 minutes")

	var snap meridian.StatusEvent
	require.Equal(t, http.StatusOK, f.get(t, "/api/status", &snap))
	assert.Equal(t, "Market is closed. Opens in 45 minutes", snap.Status)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first meridian.StatusEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, meridian.EventSnapshot, first.Kind)
	assert.Equal(t, "Market is closed. Opens in 45 minutes", first.Status)

	f.status.OnPositions([]domain.Position{{Symbol: "NVDA", Side: domain.PositionSideLong, Qty: 10}})
	// The earlier status event may still be in flight through the hub.
	var next meridian.StatusEvent
	for next.Kind != meridian.EventPositions {
		next = meridian.StatusEvent{}
		require.NoError(t, conn.ReadJSON(&next))
	}
	require.Len(t, next.Positions, 1)
	assert.Equal(t, "NVDA", next.Positions[0].Symbol)
}

func TestGRPCBacktest(t *testing.T) {
	f := newFixture(t)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	f.srv.RegisterGRPC(gs)
	go gs.Serve(lis)
	defer gs.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := meridian.NewGRPCClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := client.RunBacktest(ctx, meridian.BacktestRequest{Symbols: []string{"UP"}, Timeframe: "DAILY"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "UP", results[0].Symbol)
	assert.NotEmpty(t, results[0].Trades)
	assert.Len(t, results[0].Equity, 11)
	require.Len(t, results[0].DailyReturns, 11)
	assert.True(t, results[0].DailyReturns[10].Date.Equal(time.Date(2023, 1, 12, 0, 0, 0, 0, time.UTC)))

	_, err = client.RunBacktest(ctx, meridian.BacktestRequest{Timeframe: "DAILY"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
