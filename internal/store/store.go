// Package store defines storage interfaces for persisting and retrieving bar
// history, backtest runs and the order audit log.
package store

import (
	"context"
	"time"

	"meridian/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data per timeframe.
type BarStore interface {
	// WriteBars persists a batch of bars of the given timeframe.
	WriteBars(ctx context.Context, tf domain.Timeframe, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end] ordered
	// by timestamp.
	ReadBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols stored for the timeframe.
	ListSymbols(ctx context.Context, tf domain.Timeframe) ([]string, error)
}

// RunStore persists completed backtest runs.
type RunStore interface {
	// SaveRun inserts a run with its trades and returns the assigned ID.
	SaveRun(ctx context.Context, run *BacktestRun) (int64, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]BacktestRun, error)

	// RunTrades returns the trades recorded for a run.
	RunTrades(ctx context.Context, runID int64) ([]domain.Trade, error)
}

// OrderStore persists the audit log of order submissions.
type OrderStore interface {
	// SaveOrder appends one order outcome.
	SaveOrder(ctx context.Context, rec *OrderRecord) error

	// ListOrders returns the most recent records, optionally filtered by
	// status (empty matches all), up to limit.
	ListOrders(ctx context.Context, status domain.ResultStatus, limit int) ([]OrderRecord, error)
}

// BacktestRun is one persisted symbol run.
type BacktestRun struct {
	ID           int64
	CreatedAt    time.Time
	Strategy     string
	Symbol       string
	Timeframe    domain.Timeframe
	Start        time.Time
	End          time.Time
	StartingCash float64
	Metrics      domain.PerformanceMetrics
	Trades       []domain.Trade
}

// OrderRecord is one entry of the order audit log.
type OrderRecord struct {
	ID        int64
	CreatedAt time.Time
	Symbol    string
	Side      domain.OrderSide
	Qty       int64
	Status    domain.ResultStatus
	OrderID   string
	Error     string
}
