// Package longshort implements the live long-short momentum strategy: a
// momentum Ranker, a 130/30 portfolio Rebalancer and the scheduled Runner
// that drives rebalance cycles while the market is open.
package longshort

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"meridian/internal/domain"
	"meridian/internal/gather"
)

// DefaultRankLookback is the trailing window of 1Min bars used for scoring.
const DefaultRankLookback = 10 * time.Minute

// Ranking is the ordered outcome of one ranking pass.
type Ranking struct {
	// Scores are sorted ascending by PercentChange.
	Scores []domain.StockScore
	Long   []string
	Short  []string
}

// Ranker scores a universe by short-horizon momentum.
type Ranker struct {
	bars     gather.BarSource
	lookback time.Duration
	log      *slog.Logger
}

// NewRanker creates a Ranker reading 1Min bars from bars. A non-positive
// lookback selects DefaultRankLookback.
func NewRanker(bars gather.BarSource, lookback time.Duration) *Ranker {
	if lookback <= 0 {
		lookback = DefaultRankLookback
	}
	return &Ranker{
		bars:     bars,
		lookback: lookback,
		log:      slog.Default().With("component", "ranker"),
	}
}

// QuarterSize is the size of the long and the short candidate sets for a
// universe of n symbols.
func QuarterSize(n int) int {
	return n / 4
}

// Score returns (lastClose - firstClose) / firstClose over the lookback
// window ending at now. No bars scores 0.
func (r *Ranker) Score(ctx context.Context, symbol string, now time.Time) (float64, error) {
	bars, err := r.bars.GetBars(ctx, symbol, domain.TimeframeMinute, now.Add(-r.lookback), now)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}
	first, last := bars[0].Close, bars[len(bars)-1].Close
	if first <= 0 {
		return 0, &domain.DataGapError{Symbol: symbol, Index: 0, Reason: "non-positive first close"}
	}
	return (last - first) / first, nil
}

// Rank scores every symbol concurrently and partitions the ascending order
// into the bottom quarter (short) and the top quarter (long). A symbol whose
// fetch fails is logged and scored 0.
func (r *Ranker) Rank(ctx context.Context, universe []string, now time.Time) Ranking {
	scores := make([]domain.StockScore, len(universe))

	var wg sync.WaitGroup
	for i, sym := range universe {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			score, err := r.Score(ctx, sym, now)
			if err != nil {
				r.log.Warn("scoring failed, using neutral score", "symbol", sym, "err", err)
				score = 0
			}
			scores[i] = domain.StockScore{Symbol: sym, PercentChange: score}
		}(i, sym)
	}
	wg.Wait()

	return Partition(scores)
}

// Partition sorts scores ascending (ties keep input order) and selects the
// short and long candidate sets.
func Partition(scores []domain.StockScore) Ranking {
	sorted := append([]domain.StockScore(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PercentChange < sorted[j].PercentChange
	})

	q := QuarterSize(len(sorted))
	rk := Ranking{
		Scores: sorted,
		Short:  make([]string, 0, q),
		Long:   make([]string, 0, q),
	}
	for _, s := range sorted[:q] {
		rk.Short = append(rk.Short, s.Symbol)
	}
	for _, s := range sorted[len(sorted)-q:] {
		rk.Long = append(rk.Long, s.Symbol)
	}
	return rk
}
