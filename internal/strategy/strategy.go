// Package strategy defines the Strategy interface for bar-driven trading
// rules, the signal and simulation primitives used to backtest them, and a
// Registry for looking strategies up by name.
package strategy

import (
	"context"
	"sort"

	"meridian/internal/domain"
)

// Strategy is the interface that all bar-driven strategies must implement.
// A Strategy instance is stateful and owned by a single backtest run.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init resets any per-run state before the first bar is delivered.
	Init(ctx context.Context) error

	// Warmup returns the minimum number of bars required before the strategy
	// can emit anything other than SignalNone.
	Warmup() int

	// OnBar is called once per bar in timestamp order with the position held
	// before the bar is processed.
	OnBar(ctx context.Context, bar domain.Bar, pos domain.SimulatedPosition) (domain.Signal, error)
}

// Factory builds a fresh Strategy instance.
type Factory func() Strategy

// Registry holds a named collection of strategy factories for lookup and
// enumeration. Each lookup returns a new instance so concurrent runs never
// share state.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a strategy factory to the registry, keyed by the Name() of
// the strategies it builds.
func (r *Registry) Register(f Factory) {
	r.factories[f().Name()] = f
}

// New builds a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) New(name string) (Strategy, bool) {
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
