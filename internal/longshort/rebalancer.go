package longshort

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"meridian/internal/domain"
	"meridian/internal/gather"
)

// DefaultShortPct is the fraction of equity sold short each cycle.
const DefaultShortPct = 0.30

// DefaultUniverse is the symbol universe traded when none is configured.
var DefaultUniverse = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META", "TSLA", "NVDA", "JPM", "V", "WMT"}

// Phase is a state of the rebalance cycle.
type Phase string

const (
	PhaseRank      Phase = "RANK"
	PhaseSize      Phase = "SIZE"
	PhaseReconcile Phase = "RECONCILE"
	PhaseBatch     Phase = "BATCH_ORDER"
	PhaseRecover   Phase = "RECOVER"
	PhaseDone      Phase = "DONE"
)

// Gateway is the order and account surface the Rebalancer drives.
// *engine.Engine implements it.
type Gateway interface {
	Account(ctx context.Context) (*domain.AccountInfo, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	CancelOpenOrders(ctx context.Context) (int, error)
	SubmitAt(ctx context.Context, intent domain.OrderIntent, refPrice float64) domain.OrderResult
}

// CycleReport describes one completed (or aborted) rebalance cycle.
type CycleReport struct {
	Started   time.Time
	Phases    []Phase
	Ranking   Ranking
	Equity    float64
	Prices    map[string]float64
	Target    domain.TargetPortfolio
	Reconcile []domain.OrderResult
	Batch     []domain.OrderResult
	Recover   []domain.OrderResult
	// SizingErrors holds the sides that could not be sized this cycle.
	SizingErrors []error
}

func (r *CycleReport) enter(p Phase) { r.Phases = append(r.Phases, p) }

// Submitted returns every order result of the cycle in phase order.
func (r *CycleReport) Submitted() []domain.OrderResult {
	out := make([]domain.OrderResult, 0, len(r.Reconcile)+len(r.Batch)+len(r.Recover))
	out = append(out, r.Reconcile...)
	out = append(out, r.Batch...)
	return append(out, r.Recover...)
}

// Rebalancer runs the RANK, SIZE, RECONCILE, BATCH_ORDER and RECOVER phases
// of a 130/30 long-short cycle. It keeps no state between cycles.
type Rebalancer struct {
	ranker   *Ranker
	prices   gather.PriceSource
	gw       Gateway
	universe []string
	shortPct float64
	log      *slog.Logger
}

// NewRebalancer creates a Rebalancer over universe. A nil or empty universe
// selects DefaultUniverse; shortPct <= 0 selects DefaultShortPct.
func NewRebalancer(ranker *Ranker, prices gather.PriceSource, gw Gateway, universe []string, shortPct float64) *Rebalancer {
	if len(universe) == 0 {
		universe = DefaultUniverse
	}
	if shortPct <= 0 {
		shortPct = DefaultShortPct
	}
	return &Rebalancer{
		ranker:   ranker,
		prices:   prices,
		gw:       gw,
		universe: append([]string(nil), universe...),
		shortPct: shortPct,
		log:      slog.Default().With("component", "rebalancer"),
	}
}

// Universe returns the traded symbols.
func (rb *Rebalancer) Universe() []string { return append([]string(nil), rb.universe...) }

// Rebalance runs one cycle. Per-symbol and per-order failures are contained
// in the report; an error is returned only when the account or positions
// cannot be read, which aborts the cycle.
func (rb *Rebalancer) Rebalance(ctx context.Context, now time.Time) (*CycleReport, error) {
	rep := &CycleReport{Started: now}

	// RANK
	rep.enter(PhaseRank)
	rep.Ranking = rb.ranker.Rank(ctx, rb.universe, now)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	rb.log.Info("ranked", "long", rep.Ranking.Long, "short", rep.Ranking.Short)

	// SIZE
	rep.enter(PhaseSize)
	acct, err := rb.gw.Account(ctx)
	if err != nil {
		return rep, fmt.Errorf("reading account equity: %w", err)
	}
	rep.Equity = acct.Equity
	rep.Prices = rb.fetchPrices(ctx, append(append([]string(nil), rep.Ranking.Long...), rep.Ranking.Short...))
	rep.Target = rb.size(rep)
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	// RECONCILE
	rep.enter(PhaseReconcile)
	if _, err := rb.gw.CancelOpenOrders(ctx); err != nil {
		rb.log.Warn("cancelling open orders", "err", err)
	}
	positions, err := rb.gw.Positions(ctx)
	if err != nil {
		return rep, fmt.Errorf("reading positions: %w", err)
	}
	intents, blacklist := Reconcile(positions, &rep.Target)
	rep.Reconcile = rb.submitAll(ctx, intents, rep.Prices)

	// BATCH_ORDER
	rep.enter(PhaseBatch)
	var longBatch, shortBatch []domain.OrderIntent
	if rep.Target.LongSized {
		for _, sym := range rep.Target.Long {
			if !blacklist[sym] {
				longBatch = append(longBatch, domain.MarketOrder(sym, rep.Target.QtyPerLong, domain.OrderSideBuy))
			}
		}
	}
	if rep.Target.ShortSized {
		for _, sym := range rep.Target.Short {
			if !blacklist[sym] {
				shortBatch = append(shortBatch, domain.MarketOrder(sym, rep.Target.QtyPerShort, domain.OrderSideSell))
			}
		}
	}
	longResults := rb.submitAll(ctx, longBatch, rep.Prices)
	shortResults := rb.submitAll(ctx, shortBatch, rep.Prices)
	rep.Batch = append(append(rep.Batch, longResults...), shortResults...)

	// RECOVER
	rep.enter(PhaseRecover)
	var recovery []domain.OrderIntent
	if rep.Target.LongSized {
		recovery = append(recovery, RecoverIntents(longResults, rep.Target.LongNotional, rep.Target.QtyPerLong, rep.Prices, domain.OrderSideBuy)...)
	}
	if rep.Target.ShortSized {
		recovery = append(recovery, RecoverIntents(shortResults, rep.Target.ShortNotional, rep.Target.QtyPerShort, rep.Prices, domain.OrderSideSell)...)
	}
	rep.Recover = rb.submitAll(ctx, recovery, rep.Prices)

	rep.enter(PhaseDone)
	rb.log.Info("rebalance done",
		"equity", rep.Equity,
		"qtyPerLong", rep.Target.QtyPerLong,
		"qtyPerShort", rep.Target.QtyPerShort,
		"orders", len(rep.Submitted()),
		"sizingErrors", len(rep.SizingErrors),
	)
	return rep, nil
}

// size fills the target portfolio. A side whose price sum is zero is left
// unsized and recorded as a SizingError.
func (rb *Rebalancer) size(rep *CycleReport) domain.TargetPortfolio {
	shortNotional := rb.shortPct * rep.Equity
	t := domain.TargetPortfolio{
		Long:          rep.Ranking.Long,
		Short:         rep.Ranking.Short,
		ShortNotional: shortNotional,
		LongNotional:  shortNotional + rep.Equity,
	}

	var err error
	if t.QtyPerLong, err = QtyPerSymbol(domain.PositionSideLong, t.LongNotional, t.Long, rep.Prices); err != nil {
		rep.SizingErrors = append(rep.SizingErrors, err)
		rb.log.Error("sizing skipped", "side", domain.PositionSideLong, "err", err)
	} else {
		t.LongSized = true
	}
	if t.QtyPerShort, err = QtyPerSymbol(domain.PositionSideShort, t.ShortNotional, t.Short, rep.Prices); err != nil {
		rep.SizingErrors = append(rep.SizingErrors, err)
		rb.log.Error("sizing skipped", "side", domain.PositionSideShort, "err", err)
	} else {
		t.ShortSized = true
	}
	return t
}

// QtyPerSymbol is floor(notional / sum of prices of symbols).
func QtyPerSymbol(side domain.PositionSide, notional float64, symbols []string, prices map[string]float64) (int64, error) {
	var sum float64
	for _, sym := range symbols {
		sum += prices[sym]
	}
	if sum <= 0 {
		return 0, &domain.SizingError{Side: side, Reason: fmt.Sprintf("price sum of %d symbols is zero", len(symbols))}
	}
	return int64(math.Floor(notional / sum)), nil
}

// fetchPrices reads the latest price of every symbol concurrently. A failed
// fetch is logged and leaves the price at 0.
func (rb *Rebalancer) fetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	values := make([]float64, len(symbols))
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			p, err := rb.prices.LatestPrice(ctx, sym)
			if err != nil {
				rb.log.Warn("price fetch failed", "symbol", sym, "err", err)
				return
			}
			values[i] = p
		}(i, sym)
	}
	wg.Wait()

	prices := make(map[string]float64, len(symbols))
	for i, sym := range symbols {
		prices[sym] = values[i]
	}
	return prices
}

// submitAll submits intents concurrently and returns results in intent order.
func (rb *Rebalancer) submitAll(ctx context.Context, intents []domain.OrderIntent, prices map[string]float64) []domain.OrderResult {
	results := make([]domain.OrderResult, len(intents))
	var wg sync.WaitGroup
	for i := range intents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = rb.gw.SubmitAt(ctx, intents[i], prices[intents[i].Symbol])
		}(i)
	}
	wg.Wait()
	return results
}

// ClosePositions cancels open orders and flattens every live position.
func (rb *Rebalancer) ClosePositions(ctx context.Context) ([]domain.OrderResult, error) {
	if _, err := rb.gw.CancelOpenOrders(ctx); err != nil {
		rb.log.Warn("cancelling open orders", "err", err)
	}
	positions, err := rb.gw.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading positions: %w", err)
	}
	intents := make([]domain.OrderIntent, 0, len(positions))
	for _, p := range positions {
		intents = append(intents, closeIntent(p))
	}
	results := rb.submitAll(ctx, intents, nil)

	var errs []error
	for _, r := range results {
		if !r.OK() {
			errs = append(errs, fmt.Errorf("closing %s: %w", r.Intent.Symbol, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Phase rules
// ---------------------------------------------------------------------------

// Reconcile derives the orders that move live positions towards the target
// and the set of symbols already handled, which the batch phase skips.
//
//   - In neither set: close the position.
//   - Long target held short: buy the short back; the batch opens the long.
//   - Long target held long: trade the difference to QtyPerLong.
//   - Short target: the mirror image with QtyPerShort.
//
// Differences are only traded for a sized side.
func Reconcile(positions []domain.Position, target *domain.TargetPortfolio) ([]domain.OrderIntent, map[string]bool) {
	var intents []domain.OrderIntent
	blacklist := make(map[string]bool)

	for _, p := range positions {
		switch {
		case target.IsLong(p.Symbol):
			if p.Side == domain.PositionSideShort {
				intents = append(intents, domain.MarketOrder(p.Symbol, p.Qty, domain.OrderSideBuy))
				continue
			}
			if target.LongSized && p.Qty != target.QtyPerLong {
				diff := p.Qty - target.QtyPerLong
				if diff > 0 {
					intents = append(intents, domain.MarketOrder(p.Symbol, diff, domain.OrderSideSell))
				} else {
					intents = append(intents, domain.MarketOrder(p.Symbol, -diff, domain.OrderSideBuy))
				}
			}
			blacklist[p.Symbol] = true

		case target.IsShort(p.Symbol):
			if p.Side == domain.PositionSideLong {
				intents = append(intents, domain.MarketOrder(p.Symbol, p.Qty, domain.OrderSideSell))
				continue
			}
			if target.ShortSized && p.Qty != target.QtyPerShort {
				diff := p.Qty - target.QtyPerShort
				if diff > 0 {
					intents = append(intents, domain.MarketOrder(p.Symbol, diff, domain.OrderSideBuy))
				} else {
					intents = append(intents, domain.MarketOrder(p.Symbol, -diff, domain.OrderSideSell))
				}
			}
			blacklist[p.Symbol] = true

		default:
			intents = append(intents, closeIntent(p))
		}
	}
	return intents, blacklist
}

// RecoverIntents spreads a side's notional over the symbols whose batch
// order executed when some of the side's batch orders failed. Each executed
// symbol gets a delta order from qty to floor(notional / sum of executed
// prices), placed in side.
func RecoverIntents(results []domain.OrderResult, notional float64, qty int64, prices map[string]float64, side domain.OrderSide) []domain.OrderIntent {
	var executed []string
	incomplete := 0
	for _, r := range results {
		if r.OK() {
			executed = append(executed, r.Intent.Symbol)
		} else {
			incomplete++
		}
	}
	if len(executed) == 0 || incomplete == 0 {
		return nil
	}

	var sum float64
	for _, sym := range executed {
		sum += prices[sym]
	}
	if sum <= 0 {
		return nil
	}
	adjusted := int64(math.Floor(notional / sum))

	intents := make([]domain.OrderIntent, 0, len(executed))
	for _, sym := range executed {
		intents = append(intents, domain.MarketOrder(sym, adjusted-qty, side))
	}
	return intents
}

func closeIntent(p domain.Position) domain.OrderIntent {
	side := domain.OrderSideSell
	if p.Side == domain.PositionSideShort {
		side = domain.OrderSideBuy
	}
	return domain.MarketOrder(p.Symbol, p.Qty, side)
}
