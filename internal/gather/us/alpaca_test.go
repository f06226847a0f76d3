package us

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"meridian/internal/domain"
	"meridian/internal/store"
)

type fakeBarClient struct {
	mu       sync.Mutex
	bars     map[string][]marketdata.Bar
	fail     int // fail the first n calls
	calls    int
	requests []marketdata.GetBarsRequest
}

func (f *fakeBarClient) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.calls <= f.fail {
		return nil, errors.New("503 service unavailable")
	}
	return f.bars[symbol], nil
}

func (f *fakeBarClient) GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string][]marketdata.Bar)
	for _, s := range symbols {
		if b, ok := f.bars[s]; ok {
			out[s] = b
		}
	}
	return out, nil
}

type fakeCalendar struct{ days []alpaca.CalendarDay }

func (c fakeCalendar) GetCalendar(alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	return c.days, nil
}

func newTestSource(c barClient) *AlpacaSource {
	s := NewAlpacaSource(c, "iex", 0)
	s.backoff = 0
	return s
}

func TestAlpacaSourceGetBars(t *testing.T) {
	ts := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	c := &fakeBarClient{bars: map[string][]marketdata.Bar{
		"AAPL": {
			{Timestamp: ts, Open: 185, High: 186, Low: 184, Close: 185.5, Volume: 1000, TradeCount: 10, VWAP: 185.2},
		},
	}}
	s := newTestSource(c)

	bars, err := s.GetBars(context.Background(), "AAPL", domain.TimeframeDay, ts.AddDate(0, 0, -1), ts)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("GetBars returned %d bars, want 1", len(bars))
	}
	want := domain.Bar{Symbol: "AAPL", Timestamp: ts, Open: 185, High: 186, Low: 184, Close: 185.5, Volume: 1000, TradeCount: 10, VWAP: 185.2}
	if !reflect.DeepEqual(bars[0], want) {
		t.Errorf("bar = %+v, want %+v", bars[0], want)
	}
	if got := c.requests[len(c.requests)-1].TimeFrame; got != marketdata.OneDay {
		t.Errorf("TimeFrame = %v, want OneDay", got)
	}
}

func TestAlpacaSourceRetries(t *testing.T) {
	c := &fakeBarClient{fail: 2, bars: map[string][]marketdata.Bar{"MSFT": {{Close: 400}}}}
	s := newTestSource(c)

	bars, err := s.GetBars(context.Background(), "MSFT", domain.TimeframeMinute, time.Now().Add(-time.Minute), time.Now())
	if err != nil {
		t.Fatalf("GetBars after transient failures: %v", err)
	}
	if len(bars) != 1 || c.calls != 3 {
		t.Errorf("bars = %d, calls = %d; want 1 bar after 3 calls", len(bars), c.calls)
	}
}

func TestAlpacaSourceUnsupportedTimeframe(t *testing.T) {
	s := newTestSource(&fakeBarClient{})
	if _, err := s.GetBars(context.Background(), "AAPL", domain.Timeframe("7Day"), time.Now(), time.Now()); err == nil {
		t.Fatal("expected error for unsupported timeframe")
	}
}

func TestAlpacaSourceLatestPrice(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	c := &fakeBarClient{bars: map[string][]marketdata.Bar{
		"TSLA": {{Timestamp: now.Add(-time.Minute), Close: 250}, {Timestamp: now, Close: 251}},
	}}
	s := newTestSource(c)
	s.now = func() time.Time { return now }

	price, err := s.LatestPrice(context.Background(), "TSLA")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if price != 250 {
		t.Errorf("LatestPrice = %v, want 250 (first bar in window)", price)
	}
	req := c.requests[0]
	if !req.Start.Equal(now.Add(-DefaultPriceLookback)) || !req.End.Equal(now) {
		t.Errorf("window = [%v, %v]", req.Start, req.End)
	}

	price, err = s.LatestPrice(context.Background(), "NVDA")
	if err != nil || price != 0 {
		t.Errorf("LatestPrice(no bars) = %v, %v; want 0, nil", price, err)
	}
}

func TestLatestFinishedTradingDay(t *testing.T) {
	et, _ := time.LoadLocation("America/New_York")
	cal := fakeCalendar{days: []alpaca.CalendarDay{
		{Date: "2024-01-04"},
		{Date: "2024-01-05"},
	}}

	// Before the settle cutoff the previous session is the latest finished.
	got, err := LatestFinishedTradingDay(cal, time.Date(2024, 1, 5, 12, 0, 0, 0, et))
	if err != nil {
		t.Fatal(err)
	}
	if got.Format(time.DateOnly) != "2024-01-04" {
		t.Errorf("midday = %s, want 2024-01-04", got.Format(time.DateOnly))
	}

	got, err = LatestFinishedTradingDay(cal, time.Date(2024, 1, 5, 21, 0, 0, 0, et))
	if err != nil {
		t.Fatal(err)
	}
	if got.Format(time.DateOnly) != "2024-01-05" {
		t.Errorf("evening = %s, want 2024-01-05", got.Format(time.DateOnly))
	}
}

func TestBarSyncGathererRun(t *testing.T) {
	et, _ := time.LoadLocation("America/New_York")
	ts := time.Date(2024, 1, 4, 5, 0, 0, 0, time.UTC)
	c := &fakeBarClient{bars: map[string][]marketdata.Bar{
		"AAPL": {{Timestamp: ts, Close: 181.9}},
		"MSFT": {{Timestamp: ts, Close: 367.9}},
	}}
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	g := NewBarSyncGatherer(c, fakeCalendar{days: []alpaca.CalendarDay{{Date: "2024-01-04"}}}, ps, BarSyncConfig{
		Symbols:   []string{"aapl", "MSFT", "ZZZZ"},
		Start:     ts.AddDate(0, 0, -3),
		BatchSize: 2,
		StateDir:  filepath.Join(dir, "sync"),
	})
	g.now = func() time.Time { return time.Date(2024, 1, 4, 21, 0, 0, 0, et) }

	if g.Name() != "bar-sync" {
		t.Errorf("Name() = %q", g.Name())
	}
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	symbols, err := ps.ListSymbols(context.Background(), domain.TimeframeDay)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(symbols, []string{"AAPL", "MSFT"}) {
		t.Errorf("synced symbols = %v", symbols)
	}
	if _, err := os.Stat(filepath.Join(dir, "sync", stateFile)); err != nil {
		t.Errorf("sync state not written: %v", err)
	}

	// A second run for the same day does nothing.
	calls := c.calls
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if c.calls != calls {
		t.Errorf("second run made %d API calls, want 0", c.calls-calls)
	}
}

func TestLoadSymbolFile(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "universe.txt")
	if err := os.WriteFile(txt, []byte("# tech\naapl\n\nMSFT\nAAPL\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSymbolFile(txt)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"AAPL", "MSFT"}) {
		t.Errorf("LoadSymbolFile(txt) = %v", got)
	}

	csvPath := filepath.Join(dir, "universe.csv")
	if err := os.WriteFile(csvPath, []byte("symbol,name\nnvda,NVIDIA\njpm,JPMorgan\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadSymbolFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"NVDA", "JPM"}) {
		t.Errorf("LoadSymbolFile(csv) = %v", got)
	}
}
