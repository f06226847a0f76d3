package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meridian/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper trading and
// tests. Orders fill immediately at the configured symbol price; positions
// and cash are tracked in memory.
type SimulatorBroker struct {
	mu        sync.Mutex
	cash      float64
	prices    map[string]float64
	qty       map[string]int64 // signed; negative is short
	orders    []domain.Order
	open      map[string]*domain.Order
	rejects   map[string]error
	clock     domain.Clock
	accessErr error
	seq       int
	now       func() time.Time
}

// NewSimulatorBroker creates a SimulatorBroker holding cash and no
// positions. The clock starts open.
func NewSimulatorBroker(cash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:    cash,
		prices:  make(map[string]float64),
		qty:     make(map[string]int64),
		open:    make(map[string]*domain.Order),
		rejects: make(map[string]error),
		clock:   domain.Clock{IsOpen: true},
		now:     time.Now,
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// ---------------------------------------------------------------------------
// Setup
// ---------------------------------------------------------------------------

// SetPrice sets the fill and mark price of symbol.
func (b *SimulatorBroker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// SetPosition sets a signed position without touching cash.
func (b *SimulatorBroker) SetPosition(symbol string, signedQty int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if signedQty == 0 {
		delete(b.qty, symbol)
		return
	}
	b.qty[symbol] = signedQty
}

// SetClock replaces the market clock.
func (b *SimulatorBroker) SetClock(c domain.Clock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = c
}

// Reject makes every order for symbol fail with err. A nil err clears it.
func (b *SimulatorBroker) Reject(symbol string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.rejects, symbol)
		return
	}
	b.rejects[symbol] = err
}

// FailAccess makes account, clock and position reads fail with err.
func (b *SimulatorBroker) FailAccess(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessErr = err
}

// AddOpenOrder registers a working order that never fills on its own.
func (b *SimulatorBroker) AddOpenOrder(intent domain.OrderIntent) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.newOrderLocked(intent, domain.OrderStatusNew)
	b.open[o.ID] = &o
	return o.ID
}

// Orders returns every order ever submitted, in submission order.
func (b *SimulatorBroker) Orders() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Order(nil), b.orders...)
}

// ---------------------------------------------------------------------------
// Broker implementation
// ---------------------------------------------------------------------------

// GetAccount marks positions to the configured prices.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.accessErr != nil {
		return nil, b.accessErr
	}
	equity := b.cash
	for sym, q := range b.qty {
		equity += float64(q) * b.prices[sym]
	}
	return &domain.AccountInfo{
		Equity:      equity,
		Cash:        b.cash,
		BuyingPower: max(b.cash, 0),
	}, nil
}

// GetClock returns the configured clock stamped with the current time.
func (b *SimulatorBroker) GetClock(_ context.Context) (*domain.Clock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.accessErr != nil {
		return nil, b.accessErr
	}
	c := b.clock
	if c.Timestamp.IsZero() {
		c.Timestamp = b.now()
	}
	return &c, nil
}

// ListOpenOrders returns orders registered with AddOpenOrder that have not
// been cancelled.
func (b *SimulatorBroker) ListOpenOrders(_ context.Context) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Order, 0, len(b.open))
	for _, o := range b.open {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CancelOrder cancels an open order.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.open[orderID]
	if !ok {
		return fmt.Errorf("order %s not found or not open", orderID)
	}
	o.Status = domain.OrderStatusCancelled
	delete(b.open, orderID)
	return nil
}

// GetPositions returns positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.accessErr != nil {
		return nil, b.accessErr
	}
	positions := make([]domain.Position, 0, len(b.qty))
	for sym, q := range b.qty {
		p := domain.Position{Symbol: sym, Side: domain.PositionSideLong, Qty: q}
		if q < 0 {
			p.Side = domain.PositionSideShort
			p.Qty = -q
		}
		p.MarketValue = float64(q) * b.prices[sym]
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// SubmitOrder fills the order immediately at the symbol's price.
func (b *SimulatorBroker) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if intent.Qty <= 0 {
		return nil, fmt.Errorf("simulator: qty must be positive, got %d", intent.Qty)
	}
	if err := b.rejects[intent.Symbol]; err != nil {
		o := b.newOrderLocked(intent, domain.OrderStatusRejected)
		b.orders = append(b.orders, o)
		return nil, err
	}
	price, ok := b.prices[intent.Symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("simulator: no price for %s", intent.Symbol)
	}

	signed := intent.Qty
	if intent.Side == domain.OrderSideSell {
		signed = -signed
	}
	if q := b.qty[intent.Symbol] + signed; q == 0 {
		delete(b.qty, intent.Symbol)
	} else {
		b.qty[intent.Symbol] = q
	}
	b.cash -= float64(signed) * price

	o := b.newOrderLocked(intent, domain.OrderStatusFilled)
	o.FilledQty = intent.Qty
	o.FilledAvgPrice = price
	b.orders = append(b.orders, o)
	return &o, nil
}

// LatestPrice returns the configured price of symbol, 0 when unset. It lets
// the simulator stand in as a price source for paper runs.
func (b *SimulatorBroker) LatestPrice(_ context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prices[symbol], nil
}

func (b *SimulatorBroker) newOrderLocked(intent domain.OrderIntent, status domain.OrderStatus) domain.Order {
	b.seq++
	now := b.now()
	return domain.Order{
		ID:          fmt.Sprintf("sim-%06d", b.seq),
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Type:        intent.Type,
		TimeInForce: intent.TimeInForce,
		Status:      status,
		Qty:         intent.Qty,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
