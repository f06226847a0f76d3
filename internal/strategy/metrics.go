package strategy

import (
	"math"

	"meridian/internal/domain"
)

// Annualisation constants for the Sharpe ratio.
const (
	TradingDaysPerYear = 252
	RiskFreeRate       = 0.02
)

// DailyRiskFreeRate converts the annual risk-free rate into a per-bar rate.
func DailyRiskFreeRate() float64 {
	return math.Pow(1+RiskFreeRate, 1.0/TradingDaysPerYear) - 1
}

// Analyze computes the metrics of one completed run from its full history.
func Analyze(startingCash float64, equity []domain.EquityPoint, returns []domain.DailyReturn, trades []domain.Trade) domain.PerformanceMetrics {
	final := startingCash
	if len(equity) > 0 {
		final = equity[len(equity)-1].Equity
	}
	totalReturn := 0.0
	if startingCash != 0 {
		totalReturn = (final - startingCash) / startingCash * 100
	}

	return domain.PerformanceMetrics{
		FinalEquity:    final,
		TotalReturnPct: totalReturn,
		TotalTrades:    len(trades),
		MaxDrawdown:    MaxDrawdown(equity),
		SharpeRatio:    SharpeRatio(returns),
		WinRate:        WinRate(trades),
	}
}

// MaxDrawdown returns the largest fractional decline from the running peak.
// The peak starts at the first equity value.
func MaxDrawdown(equity []domain.EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0].Equity
	maxDD := 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// SharpeRatio returns the annualised mean excess return over its standard
// deviation. It returns NaN when the deviation is zero or there are fewer
// than two returns; callers must treat NaN as insufficient data.
func SharpeRatio(returns []domain.DailyReturn) float64 {
	n := len(returns)
	if n < 2 {
		return math.NaN()
	}
	rf := DailyRiskFreeRate()

	var sum float64
	for _, r := range returns {
		sum += r.Return - rf
	}
	mean := sum / float64(n)

	var sq float64
	for _, r := range returns {
		d := r.Return - rf - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n))
	if std == 0 || math.IsNaN(std) {
		return math.NaN()
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// WinRate returns profitable exits over total exits. An exit is profitable
// when its proceeds exceed the entry execution price times the shares sold.
func WinRate(trades []domain.Trade) float64 {
	var exits, wins int
	entryPrice := 0.0
	for _, t := range trades {
		switch t.Type {
		case domain.TradeTypeBuy:
			entryPrice = t.Price
		case domain.TradeTypeSell:
			exits++
			if t.Total > entryPrice*float64(t.Shares) {
				wins++
			}
		}
	}
	if exits == 0 {
		return 0
	}
	return float64(wins) / float64(exits)
}
