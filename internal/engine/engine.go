// Package engine is the order gateway between strategies and a broker: it
// filters empty orders, applies pre-trade risk checks, records every outcome
// and runs bulk cancellation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meridian/internal/broker"
	"meridian/internal/domain"
	"meridian/internal/store"
)

// Engine orchestrates order submission by delegating to a broker for
// execution, a store for the audit log, and a risk manager for pre-trade
// checks. Store and risk manager are optional.
type Engine struct {
	broker broker.Broker
	orders store.OrderStore
	risk   *RiskManager
	now    func() time.Time
	log    *slog.Logger
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(b broker.Broker, orders store.OrderStore, risk *RiskManager) *Engine {
	return &Engine{
		broker: b,
		orders: orders,
		risk:   risk,
		now:    time.Now,
		log:    slog.Default().With("component", "engine"),
	}
}

// Broker returns the underlying broker.
func (e *Engine) Broker() broker.Broker { return e.broker }

// Submit sends one order. A qty <= 0 is a successful no-op that never
// reaches the broker. Rejections are reported in the result, not as errors.
func (e *Engine) Submit(ctx context.Context, intent domain.OrderIntent) domain.OrderResult {
	return e.SubmitAt(ctx, intent, 0)
}

// SubmitAt is Submit with a reference price for the notional risk check.
func (e *Engine) SubmitAt(ctx context.Context, intent domain.OrderIntent, refPrice float64) domain.OrderResult {
	if intent.Type == "" {
		intent.Type = domain.OrderTypeMarket
	}
	if intent.TimeInForce == "" {
		intent.TimeInForce = domain.TimeInForceDay
	}
	res := domain.OrderResult{Intent: intent}

	switch {
	case intent.Qty <= 0:
		e.log.Info("quantity is <= 0, order not sent",
			"symbol", intent.Symbol, "side", intent.Side, "qty", intent.Qty)
		res.Status = domain.ResultNoop

	default:
		if err := e.checkRisk(ctx, intent, refPrice); err != nil {
			res.Status = domain.ResultRejected
			res.Err = err
			break
		}
		order, err := e.broker.SubmitOrder(ctx, intent)
		if err != nil {
			res.Status = domain.ResultRejected
			res.Err = err
			break
		}
		res.Status = domain.ResultSubmitted
		res.OrderID = order.ID
	}

	if res.Status == domain.ResultRejected {
		e.log.Warn("order rejected",
			"symbol", intent.Symbol, "side", intent.Side, "qty", intent.Qty, "err", res.Err)
	} else if res.Status == domain.ResultSubmitted {
		e.log.Info("order submitted",
			"symbol", intent.Symbol, "side", intent.Side, "qty", intent.Qty, "orderID", res.OrderID)
	}
	e.audit(ctx, res)
	return res
}

func (e *Engine) checkRisk(ctx context.Context, intent domain.OrderIntent, refPrice float64) error {
	if !e.risk.Enabled() {
		return nil
	}
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("risk check account: %w", err)
	}
	return e.risk.CheckOrder(intent, refPrice, acct, e.now())
}

func (e *Engine) audit(ctx context.Context, res domain.OrderResult) {
	if e.orders == nil {
		return
	}
	rec := &store.OrderRecord{
		CreatedAt: e.now().UTC(),
		Symbol:    res.Intent.Symbol,
		Side:      res.Intent.Side,
		Qty:       res.Intent.Qty,
		Status:    res.Status,
		OrderID:   res.OrderID,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	// Audit writes outlive the cycle context.
	if err := e.orders.SaveOrder(context.WithoutCancel(ctx), rec); err != nil {
		e.log.Error("persisting order", "symbol", rec.Symbol, "err", err)
	}
}

// CancelOpenOrders cancels every open order concurrently and returns how many
// were cancelled. Individual failures are joined into the returned error.
func (e *Engine) CancelOpenOrders(ctx context.Context) (int, error) {
	open, err := e.broker.ListOpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing open orders: %w", err)
	}

	errs := make([]error, len(open))
	var wg sync.WaitGroup
	for i := range open {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := e.broker.CancelOrder(ctx, open[i].ID); err != nil {
				errs[i] = fmt.Errorf("cancel %s (%s): %w", open[i].ID, open[i].Symbol, err)
			}
		}(i)
	}
	wg.Wait()

	cancelled := 0
	for _, err := range errs {
		if err == nil {
			cancelled++
		}
	}
	if cancelled > 0 {
		e.log.Info("cancelled open orders", "count", cancelled)
	}
	return cancelled, errors.Join(errs...)
}

// Positions returns all currently open positions.
func (e *Engine) Positions(ctx context.Context) ([]domain.Position, error) {
	return e.broker.GetPositions(ctx)
}

// Account returns the account snapshot.
func (e *Engine) Account(ctx context.Context) (*domain.AccountInfo, error) {
	return e.broker.GetAccount(ctx)
}

// Clock returns the market clock.
func (e *Engine) Clock(ctx context.Context) (*domain.Clock, error) {
	return e.broker.GetClock(ctx)
}
