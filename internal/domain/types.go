// Package domain holds the core value types shared by the backtest and live
// strategy subsystems: bars, signals, simulated fills, metrics, positions and
// orders.
package domain

import "time"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is one OHLCV price bar. Bars are immutable once produced by a data
// source and a series never contains two bars with the same timestamp.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Signals and simulated execution
// ---------------------------------------------------------------------------

// Signal is the output of the signal generator for a single bar.
type Signal string

const (
	SignalNone      Signal = "NONE"
	SignalEnterLong Signal = "ENTER_LONG"
	SignalExitLong  Signal = "EXIT_LONG"
)

// TradeType is the direction of a simulated fill.
type TradeType string

const (
	TradeTypeBuy  TradeType = "buy"
	TradeTypeSell TradeType = "sell"
)

// SimulatedSide is the state of a backtest position. Backtests never go short.
type SimulatedSide string

const (
	SimulatedFlat SimulatedSide = "flat"
	SimulatedLong SimulatedSide = "long"
)

// SimulatedPosition is the single position held by one backtest run.
type SimulatedPosition struct {
	Symbol string
	Shares int64
	Side   SimulatedSide
}

// Trade is one executed simulated transition. Price is the execution price
// after slippage; Total is Shares*Price; Fees is Total*feeRate.
type Trade struct {
	Symbol   string
	Date     time.Time
	BarIndex int
	Type     TradeType
	Shares   int64
	Price    float64
	Total    float64
	Fees     float64
}

// EquityPoint is the mark-to-market equity after processing one bar.
type EquityPoint struct {
	Date   time.Time
	Equity float64
}

// DailyReturn is the fractional equity change from the previous bar.
type DailyReturn struct {
	Date   time.Time
	Return float64
}

// PerformanceMetrics summarises one completed backtest run. SharpeRatio is
// NaN when the return series has no variance.
type PerformanceMetrics struct {
	FinalEquity    float64
	TotalReturnPct float64
	TotalTrades    int
	MaxDrawdown    float64
	SharpeRatio    float64
	WinRate        float64
}

// ---------------------------------------------------------------------------
// Live strategy
// ---------------------------------------------------------------------------

// StockScore is the momentum score of one symbol in a ranking cycle.
type StockScore struct {
	Symbol        string
	PercentChange float64
}

// TargetPortfolio is the desired state for one rebalance cycle.
type TargetPortfolio struct {
	Long          []string
	Short         []string
	QtyPerLong    int64
	QtyPerShort   int64
	LongNotional  float64
	ShortNotional float64
	LongSized     bool
	ShortSized    bool
}

// IsLong reports whether symbol is in the long target set.
func (p *TargetPortfolio) IsLong(symbol string) bool { return contains(p.Long, symbol) }

// IsShort reports whether symbol is in the short target set.
func (p *TargetPortfolio) IsShort(symbol string) bool { return contains(p.Short, symbol) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PositionSide is the side of a live brokerage position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is a live brokerage position. Qty is always the absolute share
// count; Side carries the direction.
type Position struct {
	Symbol      string
	Side        PositionSide
	Qty         int64
	MarketValue float64
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
)

// OrderStatus is the lifecycle state of a brokerage order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "canceled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderIntent is the unit the strategy hands to the broker gateway.
type OrderIntent struct {
	Symbol      string
	Qty         int64
	Side        OrderSide
	Type        OrderType
	TimeInForce TimeInForce
}

// MarketOrder returns a day market order intent.
func MarketOrder(symbol string, qty int64, side OrderSide) OrderIntent {
	return OrderIntent{
		Symbol:      symbol,
		Qty:         qty,
		Side:        side,
		Type:        OrderTypeMarket,
		TimeInForce: TimeInForceDay,
	}
}

// Order is an order as known by the broker.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	TimeInForce    TimeInForce
	Status         OrderStatus
	Qty            int64
	FilledQty      int64
	FilledAvgPrice float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ResultStatus classifies the outcome of submitting one OrderIntent.
type ResultStatus string

const (
	// ResultNoop means the intent had qty <= 0 and was not sent.
	ResultNoop      ResultStatus = "noop"
	ResultSubmitted ResultStatus = "submitted"
	ResultRejected  ResultStatus = "rejected"
)

// OrderResult is the per-order outcome. Rejections are carried here rather
// than returned as errors.
type OrderResult struct {
	Intent  OrderIntent
	Status  ResultStatus
	OrderID string
	Err     error
}

// OK reports whether the order counts as executed. No-ops count as success.
func (r OrderResult) OK() bool { return r.Status != ResultRejected }

// AccountInfo is a snapshot of the brokerage account.
type AccountInfo struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
}

// Clock is the venue's market clock.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}
