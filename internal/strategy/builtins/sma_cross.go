// Package builtins provides built-in strategy implementations that ship with
// meridian.
package builtins

import (
	"context"
	"fmt"

	"meridian/internal/domain"
	"meridian/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It enters
// long when the fast SMA crosses above the slow SMA and exits when the fast
// SMA drops below it.
type SMACross struct {
	fastPeriod int
	slowPeriod int
	closes     []float64
}

// NewSMACross creates a new SMACross strategy with the specified fast and
// slow moving average periods.
func NewSMACross(fast, slow int) *SMACross {
	return &SMACross{
		fastPeriod: fast,
		slowPeriod: slow,
	}
}

// Register adds the sma-cross strategy with the given periods to r.
func Register(r *strategy.Registry, fast, slow int) {
	r.Register(func() strategy.Strategy { return NewSMACross(fast, slow) })
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init resets the price window.
func (s *SMACross) Init(_ context.Context) error {
	if s.fastPeriod <= 0 || s.slowPeriod <= 0 {
		return fmt.Errorf("sma-cross: periods must be positive, got %d/%d", s.fastPeriod, s.slowPeriod)
	}
	s.closes = make([]float64, 0, s.slowPeriod+1)
	return nil
}

// Warmup returns the slow period.
func (s *SMACross) Warmup() int {
	return max(s.fastPeriod, s.slowPeriod)
}

// OnBar appends the close to the rolling window and evaluates the crossover
// rule against the current position.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar, pos domain.SimulatedPosition) (domain.Signal, error) {
	s.closes = append(s.closes, bar.Close)
	// The rule only needs the slow window plus one bar of history.
	if keep := s.Warmup() + 1; len(s.closes) > keep {
		s.closes = append(s.closes[:0], s.closes[len(s.closes)-keep:]...)
	}
	return strategy.CrossoverSignal(s.closes, s.fastPeriod, s.slowPeriod, pos.Shares), nil
}
