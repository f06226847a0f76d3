package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"meridian/internal/domain"
)

// Compile-time interface checks.
var _ Broker = (*AlpacaBroker)(nil)
var _ tradingClient = (*alpaca.Client)(nil)

// tradingClient is the subset of *alpaca.Client used by AlpacaBroker.
type tradingClient interface {
	GetAccount() (*alpaca.Account, error)
	GetClock() (*alpaca.Clock, error)
	GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error)
	CancelOrder(orderID string) error
	GetPositions() ([]alpaca.Position, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
}

// AlpacaBroker implements the Broker interface using the Alpaca trading API.
type AlpacaBroker struct {
	client tradingClient
}

// NewAlpacaClient builds the trading client. baseURL selects paper or live.
func NewAlpacaClient(apiKey, apiSecret, baseURL string) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

// NewAlpacaBroker wraps an Alpaca trading client.
func NewAlpacaBroker(client tradingClient) *AlpacaBroker {
	return &AlpacaBroker{client: client}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// GetAccount returns the current account information.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca GetAccount: %w", err)
	}
	return &domain.AccountInfo{
		Equity:      acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}

// GetClock returns the market clock.
func (b *AlpacaBroker) GetClock(ctx context.Context) (*domain.Clock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := b.client.GetClock()
	if err != nil {
		return nil, fmt.Errorf("alpaca GetClock: %w", err)
	}
	return &domain.Clock{
		Timestamp: c.Timestamp,
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen,
		NextClose: c.NextClose,
	}, nil
}

// ListOpenOrders returns open orders, newest first.
func (b *AlpacaBroker) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders, err := b.client.GetOrders(alpaca.GetOrdersRequest{
		Status:    "open",
		Direction: "desc",
		Limit:     500,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetOrders: %w", err)
	}
	out := make([]domain.Order, 0, len(orders))
	for i := range orders {
		out = append(out, toOrder(&orders[i]))
	}
	return out, nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("alpaca CancelOrder %s: %w", orderID, err)
	}
	return nil
}

// GetPositions returns all positions. Short positions come back from Alpaca
// with a negative qty; the domain keeps the magnitude and the side.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	positions, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca GetPositions: %w", err)
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		side := domain.PositionSideLong
		if strings.EqualFold(p.Side, string(domain.PositionSideShort)) || p.Qty.IsNegative() {
			side = domain.PositionSideShort
		}
		pos := domain.Position{
			Symbol: p.Symbol,
			Side:   side,
			Qty:    p.Qty.Abs().IntPart(),
		}
		if p.MarketValue != nil {
			pos.MarketValue = p.MarketValue.InexactFloat64()
		}
		out = append(out, pos)
	}
	return out, nil
}

// SubmitOrder places a day market order.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if intent.Qty <= 0 {
		return nil, fmt.Errorf("alpaca SubmitOrder %s: qty must be positive, got %d", intent.Symbol, intent.Qty)
	}

	qty := decimal.NewFromInt(intent.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:      intent.Symbol,
		Qty:         &qty,
		Side:        alpaca.Buy,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if intent.Side == domain.OrderSideSell {
		req.Side = alpaca.Sell
	}

	o, err := b.client.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("alpaca PlaceOrder %s %s %d: %w", intent.Side, intent.Symbol, intent.Qty, err)
	}
	order := toOrder(o)
	return &order, nil
}

func toOrder(o *alpaca.Order) domain.Order {
	order := domain.Order{
		ID:          o.ID,
		Symbol:      o.Symbol,
		Side:        domain.OrderSide(o.Side),
		Type:        domain.OrderType(o.Type),
		TimeInForce: domain.TimeInForce(o.TimeInForce),
		Status:      domain.OrderStatus(o.Status),
		FilledQty:   o.FilledQty.IntPart(),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	if o.Qty != nil {
		order.Qty = o.Qty.IntPart()
	}
	if o.FilledAvgPrice != nil {
		order.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return order
}
