package store

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meridian/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", domain.TimeframeDay, 2024)

	wantBarPath := filepath.Join("/data", "bars", "1Day", "AAPL", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}
	if !strings.Contains(bp, "AAPL") {
		t.Errorf("barPath should contain upper-cased symbol 'AAPL': %s", bp)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       185.75,
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       185.25,
		},
	}

	if err := ps.WriteBars(ctx, domain.TimeframeDay, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "AAPL", domain.TimeframeDay, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	// Bars come back sorted by timestamp.
	if got[0].Close != 185.5 {
		t.Errorf("first bar Close = %v, want 185.5", got[0].Close)
	}
	if got[1].Close != 186.0 {
		t.Errorf("second bar Close = %v, want 186.0", got[1].Close)
	}

	// Other timeframes are kept apart.
	minute, err := ps.ReadBars(ctx, "AAPL", domain.TimeframeMinute, start, end)
	if err != nil {
		t.Fatalf("ReadBars(1Min): %v", err)
	}
	if len(minute) != 0 {
		t.Errorf("ReadBars(1Min) returned %d bars, want 0", len(minute))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	first := []domain.Bar{
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Close: 403.0},
	}
	if err := ps.WriteBars(ctx, domain.TimeframeDay, first); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Same timestamp again plus a new one: merge, newest value wins.
	second := []domain.Bar{
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Close: 404.0},
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Close: 408.0},
	}
	if err := ps.WriteBars(ctx, domain.TimeframeDay, second); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "MSFT", domain.TimeframeDay, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404.0 {
		t.Errorf("merged bar Close = %v, want 404.0", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 140.5},
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 185.5},
	}
	if err := ps.WriteBars(ctx, domain.TimeframeDay, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, domain.TimeframeDay)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}

	none, err := ps.ListSymbols(ctx, domain.TimeframeMonth)
	if err != nil || len(none) != 0 {
		t.Errorf("ListSymbols(1Month) = %v, %v; want empty, nil", none, err)
	}
}

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestSQLite(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	run := &BacktestRun{
		CreatedAt:    day,
		Strategy:     "sma-cross",
		Symbol:       "AAPL",
		Timeframe:    domain.TimeframeDay,
		Start:        day.AddDate(0, -5, 0),
		End:          day,
		StartingCash: 100000,
		Metrics: domain.PerformanceMetrics{
			FinalEquity:    101000,
			TotalReturnPct: 1,
			TotalTrades:    2,
			MaxDrawdown:    0.05,
			SharpeRatio:    math.NaN(),
			WinRate:        1,
		},
		Trades: []domain.Trade{
			{Symbol: "AAPL", Date: day.AddDate(0, -1, 0), BarIndex: 55, Type: domain.TradeTypeBuy, Shares: 10, Price: 100, Total: 1000, Fees: 1},
			{Symbol: "AAPL", Date: day, BarIndex: 80, Type: domain.TradeTypeSell, Shares: 10, Price: 110, Total: 1100, Fees: 1.1},
		},
	}

	id, err := s.SaveRun(ctx, run)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id == 0 || run.ID != id {
		t.Errorf("SaveRun id = %d, run.ID = %d", id, run.ID)
	}
	if _, err := s.SaveRun(ctx, &BacktestRun{CreatedAt: day, Strategy: "sma-cross", Symbol: "MSFT", Metrics: domain.PerformanceMetrics{SharpeRatio: 1.5}}); err != nil {
		t.Fatalf("SaveRun (second): %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d runs, want 2", len(runs))
	}
	if runs[0].Symbol != "MSFT" || runs[0].Metrics.SharpeRatio != 1.5 {
		t.Errorf("newest run = %+v, want MSFT with Sharpe 1.5", runs[0])
	}
	if !math.IsNaN(runs[1].Metrics.SharpeRatio) {
		t.Errorf("NaN Sharpe should round-trip as NaN, got %v", runs[1].Metrics.SharpeRatio)
	}
	if !runs[1].Start.Equal(run.Start) || runs[1].Timeframe != domain.TimeframeDay {
		t.Errorf("run fields did not round-trip: %+v", runs[1])
	}

	trades, err := s.RunTrades(ctx, id)
	if err != nil {
		t.Fatalf("RunTrades: %v", err)
	}
	if len(trades) != 2 || trades[0].Type != domain.TradeTypeBuy || trades[1].BarIndex != 80 {
		t.Errorf("RunTrades = %+v", trades)
	}
}

func TestSQLiteStoreOrders(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	recs := []*OrderRecord{
		{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10, Status: domain.ResultSubmitted, OrderID: "o-1"},
		{Symbol: "TSLA", Side: domain.OrderSideSell, Qty: 5, Status: domain.ResultRejected, Error: "insufficient buying power"},
		{Symbol: "MSFT", Side: domain.OrderSideBuy, Qty: 0, Status: domain.ResultNoop},
	}
	for _, r := range recs {
		if err := s.SaveOrder(ctx, r); err != nil {
			t.Fatalf("SaveOrder: %v", err)
		}
	}

	all, err := s.ListOrders(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(all) != 3 || all[0].Symbol != "MSFT" {
		t.Errorf("ListOrders(all) = %+v, want 3 newest-first", all)
	}

	rejected, err := s.ListOrders(ctx, domain.ResultRejected, 10)
	if err != nil {
		t.Fatalf("ListOrders(rejected): %v", err)
	}
	if len(rejected) != 1 || rejected[0].Error != "insufficient buying power" {
		t.Errorf("ListOrders(rejected) = %+v", rejected)
	}
}
