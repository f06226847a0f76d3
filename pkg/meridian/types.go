// Package meridian is the Go SDK for the meridian API: the JSON wire types
// shared by the HTTP and gRPC surfaces, and clients for both.
package meridian

import "time"

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

// BacktestRequest is the body of POST /api/backtest. Strategy, Start and End
// fall back to server defaults when empty. Dates are YYYY-MM-DD.
type BacktestRequest struct {
	Symbols   []string `json:"symbols"`
	Timeframe string   `json:"timeframe"`
	Strategy  string   `json:"strategy,omitempty"`
	Start     string   `json:"start,omitempty"`
	End       string   `json:"end,omitempty"`
}

// BacktestResponse is the body returned by POST /api/backtest.
type BacktestResponse struct {
	Results []BacktestResult `json:"results"`
}

// BacktestResult is the outcome of one symbol.
type BacktestResult struct {
	Symbol       string        `json:"symbol"`
	RunID        int64         `json:"runId,omitempty"`
	Metrics      Metrics       `json:"metrics"`
	Trades       []Trade       `json:"trades"`
	Equity       []EquityPoint `json:"equity"`
	DailyReturns []DailyReturn `json:"dailyReturns"`
}

// EquityPoint is the mark-to-market equity after one bar.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// DailyReturn is the fractional equity change from the previous bar.
type DailyReturn struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

// Metrics mirrors the performance summary. SharpeRatio is null when the
// return series has no variance.
type Metrics struct {
	FinalEquity    float64  `json:"finalEquity"`
	TotalReturnPct float64  `json:"totalReturnPct"`
	TotalTrades    int      `json:"totalTrades"`
	MaxDrawdown    float64  `json:"maxDrawdown"`
	SharpeRatio    *float64 `json:"sharpeRatio"`
	WinRate        float64  `json:"winRate"`
}

// Trade is one simulated fill.
type Trade struct {
	Date     time.Time `json:"date"`
	BarIndex int       `json:"barIndex"`
	Type     string    `json:"type"`
	Shares   int64     `json:"shares"`
	Price    float64   `json:"price"`
	Total    float64   `json:"total"`
	Fees     float64   `json:"fees"`
}

// Run is one persisted backtest run.
type Run struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Strategy     string    `json:"strategy"`
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	StartingCash float64   `json:"startingCash"`
	Metrics      Metrics   `json:"metrics"`
}

// RunsResponse is the body of GET /api/backtest/runs.
type RunsResponse struct {
	Runs []Run `json:"runs"`
}

// ---------------------------------------------------------------------------
// Orders and live strategy
// ---------------------------------------------------------------------------

// Order is one order audit log entry.
type Order struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Qty       int64     `json:"qty"`
	Status    string    `json:"status"`
	OrderID   string    `json:"orderId,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// OrdersResponse is the body of GET /api/orders.
type OrdersResponse struct {
	Orders []Order `json:"orders"`
}

// Position is a live brokerage position.
type Position struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Qty         int64   `json:"qty"`
	MarketValue float64 `json:"marketValue"`
}

// CycleSummary condenses one rebalance cycle.
type CycleSummary struct {
	Started      time.Time `json:"started"`
	Phases       []string  `json:"phases"`
	Long         []string  `json:"long"`
	Short        []string  `json:"short"`
	Equity       float64   `json:"equity"`
	QtyPerLong   int64     `json:"qtyPerLong"`
	QtyPerShort  int64     `json:"qtyPerShort"`
	Orders       int       `json:"orders"`
	Rejected     int       `json:"rejected"`
	SizingErrors []string  `json:"sizingErrors,omitempty"`
}

// Event kinds of StatusEvent.
const (
	EventSnapshot  = "snapshot"
	EventStatus    = "status"
	EventPositions = "positions"
	EventCycle     = "cycle"
)

// StatusEvent is pushed over /ws/status and the gRPC status stream. Every
// event carries the full state after the change named by Kind.
type StatusEvent struct {
	Kind      string        `json:"kind"`
	At        time.Time     `json:"at"`
	Status    string        `json:"status"`
	Positions []Position    `json:"positions"`
	LastCycle *CycleSummary `json:"lastCycle,omitempty"`
}

// ErrorResponse is the body of every non-2xx HTTP response.
type ErrorResponse struct {
	Error string `json:"error"`
}
