package strategy

import "meridian/internal/domain"

// Default moving-average lookbacks.
const (
	DefaultFastWindow = 20
	DefaultSlowWindow = 50
)

// SMA returns the mean of the last n closes. It returns 0 when fewer than n
// closes are available; callers must treat 0 as insufficient data.
func SMA(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n {
		return 0
	}
	var sum float64
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}

// CrossoverSignal evaluates the moving-average crossover rule on a trailing
// window of closes, given the shares currently held.
//
//   - EXIT_LONG when fast < slow while holding shares.
//   - ENTER_LONG when flat and fast crossed above slow on this bar, that is
//     fast > slow now and fast <= slow one bar earlier.
//   - NONE otherwise, including every bar with fewer than slow closes.
//
// The first bar with a full slow window only establishes the baseline
// relation, so a series that starts out trending never enters.
func CrossoverSignal(closes []float64, fast, slow int, shares int64) domain.Signal {
	if len(closes) < slow || len(closes) < fast {
		return domain.SignalNone
	}
	fastSMA, slowSMA := SMA(closes, fast), SMA(closes, slow)

	if shares > 0 {
		if fastSMA < slowSMA {
			return domain.SignalExitLong
		}
		return domain.SignalNone
	}

	if fastSMA <= slowSMA || len(closes) < slow+1 {
		return domain.SignalNone
	}
	prev := closes[:len(closes)-1]
	if SMA(prev, fast) <= SMA(prev, slow) {
		return domain.SignalEnterLong
	}
	return domain.SignalNone
}
