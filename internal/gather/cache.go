package gather

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meridian/internal/domain"
	"meridian/internal/store"
)

// Compile-time interface check.
var _ BarSource = (*CachingSource)(nil)

// CachingSource serves bars from a BarStore and falls back to an upstream
// source when the store does not cover the requested range, writing fetched
// bars through to the store.
type CachingSource struct {
	store    store.BarStore
	upstream BarSource
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	fetched map[string][]dateSpan // symbol|timeframe -> ranges fetched upstream
}

type dateSpan struct{ start, end time.Time }

func (d dateSpan) contains(start, end time.Time) bool {
	return !start.Before(d.start) && !end.After(d.end)
}

// NewCachingSource wraps upstream with the bar cache s.
func NewCachingSource(s store.BarStore, upstream BarSource) *CachingSource {
	return &CachingSource{
		store:    s,
		upstream: upstream,
		log:      slog.Default().With("component", "bar-cache"),
		now:      time.Now,
		fetched:  make(map[string][]dateSpan),
	}
}

// GetBars returns cached bars when they cover [start, end], otherwise the
// upstream bars for the whole range. A failed write-through is logged, not
// returned.
func (c *CachingSource) GetBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	cached, err := c.store.ReadBars(ctx, symbol, tf, start, end)
	if err != nil {
		c.log.Warn("reading bar cache", "symbol", symbol, "timeframe", tf, "err", err)
	} else if len(cached) > 0 && c.covers(symbol, tf, cached, start, end) {
		return cached, nil
	} else if len(cached) > 0 {
		c.log.Debug("partial bar cache", "symbol", symbol, "timeframe", tf,
			"cached", len(cached), "first", cached[0].Timestamp, "last", cached[len(cached)-1].Timestamp)
	}

	bars, err := c.upstream.GetBars(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, fmt.Errorf("upstream bars for %s: %w", symbol, err)
	}
	if len(bars) > 0 {
		if err := c.store.WriteBars(ctx, tf, bars); err != nil {
			c.log.Warn("writing bar cache", "symbol", symbol, "timeframe", tf, "err", err)
			return bars, nil
		}
	}
	c.markFetched(symbol, tf, start, end)
	return bars, nil
}

// covers reports whether cached bars span [start, end]. A range already
// fetched upstream by this source is covered. Otherwise the first and last
// cached bars must fall within the timeframe's slack of the range edges,
// with end clamped to now.
func (c *CachingSource) covers(symbol string, tf domain.Timeframe, cached []domain.Bar, start, end time.Time) bool {
	c.mu.Lock()
	for _, span := range c.fetched[spanKey(symbol, tf)] {
		if span.contains(start, end) {
			c.mu.Unlock()
			return true
		}
	}
	c.mu.Unlock()

	if now := c.now(); end.After(now) {
		end = now
	}
	slack := edgeSlack(tf)
	first, last := cached[0].Timestamp, cached[len(cached)-1].Timestamp
	return !first.After(start.Add(slack)) && !last.Before(end.Add(-slack))
}

func (c *CachingSource) markFetched(symbol string, tf domain.Timeframe, start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := spanKey(symbol, tf)
	c.fetched[key] = append(c.fetched[key], dateSpan{start: start, end: end})
}

func spanKey(symbol string, tf domain.Timeframe) string {
	return symbol + "|" + string(tf)
}

// edgeSlack is how far the first or last bar may sit inside a range edge
// when the market had no session there: a long weekend for intraday and
// daily bars, a month plus that for monthly bars.
func edgeSlack(tf domain.Timeframe) time.Duration {
	const longWeekend = 4 * 24 * time.Hour
	if tf == domain.TimeframeMonth {
		return 31*24*time.Hour + longWeekend
	}
	return longWeekend
}
