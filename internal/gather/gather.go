// Package gather defines the market-data collaborators consumed by the
// backtest and live strategy subsystems, and the Gatherer interface for
// long-running data sync jobs.
package gather

import (
	"context"
	"time"

	"meridian/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run starts the data gathering process. It blocks until the work is done
	// or ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// BarSource provides ordered bars for one symbol over [start, end].
type BarSource interface {
	GetBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error)
}

// PriceSource provides a current price for one symbol. A zero price with a
// nil error means the source had no recent data.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// MarketData combines both market-data roles.
type MarketData interface {
	BarSource
	PriceSource
}
