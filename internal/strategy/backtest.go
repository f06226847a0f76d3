package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meridian/internal/domain"
	"meridian/internal/gather"
	"meridian/internal/store"
)

// ErrUnknownStrategy is returned by Run for a strategy name missing from the
// registry.
var ErrUnknownStrategy = errors.New("unknown strategy")

// BacktestRequest describes one batch backtest over several symbols.
type BacktestRequest struct {
	Strategy  string
	Symbols   []string
	Timeframe domain.Timeframe
	Start     time.Time
	End       time.Time
}

// SymbolResult is the outcome of backtesting one symbol.
type SymbolResult struct {
	Symbol  string
	RunID   int64
	Metrics domain.PerformanceMetrics
	Trades  []domain.Trade
	Equity  []domain.EquityPoint
	Returns []domain.DailyReturn
}

// Backtester replays historical bar data through a strategy, one independent
// run per symbol, and computes performance metrics.
type Backtester struct {
	source     gather.BarSource
	registry   *Registry
	sim        Simulator
	runs       store.RunStore
	maxWorkers int
	log        *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from source and looks up
// strategies in the provided registry.
func NewBacktester(source gather.BarSource, registry *Registry, sim Simulator, maxWorkers int) *Backtester {
	return &Backtester{
		source:     source,
		registry:   registry,
		sim:        sim,
		maxWorkers: max(maxWorkers, 1),
		log:        slog.Default().With("component", "backtester"),
	}
}

// WithRunStore makes the Backtester persist every successful symbol run.
func (bt *Backtester) WithRunStore(runs store.RunStore) *Backtester {
	bt.runs = runs
	return bt
}

// Run backtests every requested symbol. Symbols whose data cannot be fetched
// or is unusable are logged and dropped from the result; the rest are
// returned in request order. An error is returned only when the strategy is
// unknown, ctx is cancelled, or every symbol failed.
func (bt *Backtester) Run(ctx context.Context, req BacktestRequest) ([]SymbolResult, error) {
	if _, ok := bt.registry.New(req.Strategy); !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, req.Strategy)
	}
	if len(req.Symbols) == 0 {
		return nil, nil
	}

	results := make([]*SymbolResult, len(req.Symbols))
	errs := make([]error, len(req.Symbols))

	jobs := make(chan int, len(req.Symbols))
	for i := range req.Symbols {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	workers := min(bt.maxWorkers, len(req.Symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					errs[i] = ctx.Err()
					continue
				}
				symbol := req.Symbols[i]
				res, err := bt.runSymbol(ctx, req, symbol)
				if err != nil {
					bt.log.Warn("symbol dropped from backtest", "symbol", symbol, "err", err)
					errs[i] = err
					continue
				}
				results[i] = res
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out := make([]SymbolResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if len(out) == 0 && !allDataGaps(errs) {
		return nil, fmt.Errorf("all %d symbols failed: %w", len(req.Symbols), errors.Join(errs...))
	}
	return out, nil
}

// allDataGaps reports whether every recorded failure is a data gap. Symbols
// with too little history are skipped, not fatal, even when none survive.
func allDataGaps(errs []error) bool {
	for _, err := range errs {
		if err != nil && !errors.Is(err, domain.ErrDataGap) {
			return false
		}
	}
	return true
}

func (bt *Backtester) runSymbol(ctx context.Context, req BacktestRequest, symbol string) (*SymbolResult, error) {
	strat, _ := bt.registry.New(req.Strategy)

	bars, err := bt.source.GetBars(ctx, symbol, req.Timeframe, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("fetching bars: %w", err)
	}
	if len(bars) < strat.Warmup() {
		return nil, &domain.DataGapError{
			Symbol: symbol,
			Index:  -1,
			Reason: fmt.Sprintf("%d bars, need at least %d", len(bars), strat.Warmup()),
		}
	}

	sim, err := bt.sim.Simulate(ctx, symbol, bars, strat)
	if err != nil {
		return nil, err
	}

	res := &SymbolResult{
		Symbol:  symbol,
		Metrics: Analyze(bt.sim.StartingCash, sim.Equity, sim.Returns, sim.Trades),
		Trades:  sim.Trades,
		Equity:  sim.Equity,
		Returns: sim.Returns,
	}

	if bt.runs != nil {
		id, err := bt.runs.SaveRun(ctx, &store.BacktestRun{
			CreatedAt:    time.Now().UTC(),
			Strategy:     req.Strategy,
			Symbol:       symbol,
			Timeframe:    req.Timeframe,
			Start:        req.Start,
			End:          req.End,
			StartingCash: bt.sim.StartingCash,
			Metrics:      res.Metrics,
			Trades:       res.Trades,
		})
		if err != nil {
			bt.log.Error("persisting backtest run", "symbol", symbol, "err", err)
		} else {
			res.RunID = id
		}
	}

	bt.log.Info("backtest done",
		"symbol", symbol,
		"bars", len(bars),
		"trades", res.Metrics.TotalTrades,
		"finalEquity", res.Metrics.FinalEquity,
	)
	return res, nil
}
