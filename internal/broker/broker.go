// Package broker defines the Broker interface and provides implementations
// for executing orders and reading account state across brokerages.
package broker

import (
	"context"

	"meridian/internal/domain"
)

// Broker abstracts the brokerage operations the live strategy needs.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)

	// GetClock returns the venue's market clock.
	GetClock(ctx context.Context) (*domain.Clock, error)

	// ListOpenOrders returns the orders still working at the brokerage.
	ListOpenOrders(ctx context.Context) ([]domain.Order, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// SubmitOrder sends an order to the brokerage. Intents must have qty > 0.
	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Order, error)
}
