package strategy

import (
	"context"
	"fmt"
	"math"

	"meridian/internal/domain"
)

// Default simulation constants. Fees and slippage are charged on both entry
// and exit.
const (
	DefaultStartingCash = 100000.0
	DefaultFeeRate      = 0.001
	DefaultSlippage     = 0.001
)

// Simulator replays one symbol's bars through a strategy while keeping a
// cash/position ledger. Each run starts from StartingCash; runs never share
// capital.
type Simulator struct {
	StartingCash float64
	FeeRate      float64
	Slippage     float64
}

// NewSimulator returns a Simulator with the default cash, fee and slippage.
func NewSimulator() Simulator {
	return Simulator{
		StartingCash: DefaultStartingCash,
		FeeRate:      DefaultFeeRate,
		Slippage:     DefaultSlippage,
	}
}

// SimulationResult is the full ledger history of one run.
type SimulationResult struct {
	Symbol   string
	Trades   []domain.Trade
	Equity   []domain.EquityPoint
	Returns  []domain.DailyReturn
	Position domain.SimulatedPosition
	Cash     float64
}

// Simulate runs strat over bars. A non-monotonic timestamp or an unusable
// close aborts the run with a *domain.DataGapError.
func (s Simulator) Simulate(ctx context.Context, symbol string, bars []domain.Bar, strat Strategy) (*SimulationResult, error) {
	if len(bars) == 0 {
		return nil, &domain.DataGapError{Symbol: symbol, Index: -1, Reason: "no bars"}
	}
	if err := strat.Init(ctx); err != nil {
		return nil, fmt.Errorf("init %s: %w", strat.Name(), err)
	}

	res := &SimulationResult{
		Symbol:   symbol,
		Equity:   make([]domain.EquityPoint, 0, len(bars)),
		Returns:  make([]domain.DailyReturn, 0, len(bars)),
		Position: domain.SimulatedPosition{Symbol: symbol, Side: domain.SimulatedFlat},
		Cash:     s.StartingCash,
	}
	prevEquity := s.StartingCash

	for i, bar := range bars {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := validateBar(symbol, bars, i); err != nil {
			return nil, err
		}

		sig, err := strat.OnBar(ctx, bar, res.Position)
		if err != nil {
			return nil, fmt.Errorf("%s on bar %d: %w", strat.Name(), i, err)
		}

		switch sig {
		case domain.SignalEnterLong:
			s.buy(res, bar, i)
		case domain.SignalExitLong:
			s.sell(res, bar, i)
		}

		equity := res.Cash + float64(res.Position.Shares)*bar.Close
		ret := 0.0
		if prevEquity != 0 {
			ret = (equity - prevEquity) / prevEquity
		}
		res.Equity = append(res.Equity, domain.EquityPoint{Date: bar.Timestamp, Equity: equity})
		res.Returns = append(res.Returns, domain.DailyReturn{Date: bar.Timestamp, Return: ret})
		prevEquity = equity
	}
	return res, nil
}

// buy spends as much cash as possible at close*(1+slippage). Shares start at
// floor(cash/price) and step down until the fee also fits, so cash never goes
// negative.
func (s Simulator) buy(res *SimulationResult, bar domain.Bar, idx int) {
	if res.Position.Shares > 0 {
		return
	}
	price := bar.Close * (1 + s.Slippage)
	shares := int64(math.Floor(res.Cash / price))
	// Largest share count whose cost plus fee fits in cash.
	for shares > 0 && float64(shares)*price*(1+s.FeeRate) > res.Cash {
		shares--
	}
	if shares <= 0 {
		return
	}

	total := float64(shares) * price
	fees := total * s.FeeRate
	res.Cash -= total + fees
	res.Position.Shares += shares
	res.Position.Side = domain.SimulatedLong
	res.Trades = append(res.Trades, domain.Trade{
		Symbol:   res.Symbol,
		Date:     bar.Timestamp,
		BarIndex: idx,
		Type:     domain.TradeTypeBuy,
		Shares:   shares,
		Price:    price,
		Total:    total,
		Fees:     fees,
	})
}

// sell closes the whole position at close*(1-slippage).
func (s Simulator) sell(res *SimulationResult, bar domain.Bar, idx int) {
	shares := res.Position.Shares
	if shares <= 0 {
		return
	}

	price := bar.Close * (1 - s.Slippage)
	total := float64(shares) * price
	fees := total * s.FeeRate
	res.Cash += total - fees
	res.Position.Shares = 0
	res.Position.Side = domain.SimulatedFlat
	res.Trades = append(res.Trades, domain.Trade{
		Symbol:   res.Symbol,
		Date:     bar.Timestamp,
		BarIndex: idx,
		Type:     domain.TradeTypeSell,
		Shares:   shares,
		Price:    price,
		Total:    total,
		Fees:     fees,
	})
}

func validateBar(symbol string, bars []domain.Bar, i int) error {
	c := bars[i].Close
	if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
		return &domain.DataGapError{Symbol: symbol, Index: i, Reason: fmt.Sprintf("invalid close %v", c)}
	}
	if i > 0 && !bars[i].Timestamp.After(bars[i-1].Timestamp) {
		return &domain.DataGapError{Symbol: symbol, Index: i, Reason: "timestamp not after previous bar"}
	}
	return nil
}
