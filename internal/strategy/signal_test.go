package strategy

import (
	"testing"

	"meridian/internal/domain"
)

func TestSMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	if got := SMA(closes, 2); got != 4.5 {
		t.Errorf("SMA(last 2) = %v, want 4.5", got)
	}
	if got := SMA(closes, 5); got != 3 {
		t.Errorf("SMA(all) = %v, want 3", got)
	}
	if got := SMA(closes, 6); got != 0 {
		t.Errorf("SMA with insufficient data = %v, want 0", got)
	}
	if got := SMA(nil, 0); got != 0 {
		t.Errorf("SMA(nil, 0) = %v, want 0", got)
	}
}

func TestCrossoverSignal_ShortHistoryIsAlwaysNone(t *testing.T) {
	// A sharp spike inside a series shorter than the slow window must never
	// produce a signal, flat or long.
	var closes []float64
	for i := 0; i < DefaultSlowWindow-1; i++ {
		c := 100.0
		if i > 30 {
			c = 200
		}
		closes = append(closes, c)
		for _, shares := range []int64{0, 10} {
			if got := CrossoverSignal(closes, DefaultFastWindow, DefaultSlowWindow, shares); got != domain.SignalNone {
				t.Fatalf("bar %d shares %d: signal = %s, want NONE", i, shares, got)
			}
		}
	}
}

func TestCrossoverSignal_Transitions(t *testing.T) {
	const fast, slow = 2, 4

	flat := []float64{10, 10, 10, 10}
	if got := CrossoverSignal(flat, fast, slow, 0); got != domain.SignalNone {
		t.Errorf("equal SMAs: signal = %s, want NONE", got)
	}

	up := append(append([]float64{}, flat...), 20)
	if got := CrossoverSignal(up, fast, slow, 0); got != domain.SignalEnterLong {
		t.Errorf("cross above while flat: signal = %s, want ENTER_LONG", got)
	}
	if got := CrossoverSignal(up, fast, slow, 5); got != domain.SignalNone {
		t.Errorf("fast above slow while long: signal = %s, want NONE", got)
	}

	// Still above on the next bar: no new crossover, so no entry.
	stillUp := append(append([]float64{}, up...), 21)
	if got := CrossoverSignal(stillUp, fast, slow, 0); got != domain.SignalNone {
		t.Errorf("no fresh crossover: signal = %s, want NONE", got)
	}

	down := []float64{20, 20, 20, 20, 5}
	if got := CrossoverSignal(down, fast, slow, 5); got != domain.SignalExitLong {
		t.Errorf("fast below slow while long: signal = %s, want EXIT_LONG", got)
	}
	if got := CrossoverSignal(down, fast, slow, 0); got != domain.SignalNone {
		t.Errorf("fast below slow while flat: signal = %s, want NONE", got)
	}
}

func TestCrossoverSignal_FirstFullWindowIsBaseline(t *testing.T) {
	// fast > slow on the very first evaluable bar is not a crossover.
	closes := []float64{1, 2, 3, 4}
	if got := CrossoverSignal(closes, 2, 4, 0); got != domain.SignalNone {
		t.Errorf("first evaluable bar: signal = %s, want NONE", got)
	}
}
