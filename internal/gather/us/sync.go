package us

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"meridian/internal/domain"
	"meridian/internal/gather"
	"meridian/internal/store"
)

var _ gather.Gatherer = (*BarSyncGatherer)(nil)

// BarSyncConfig controls one BarSyncGatherer.
type BarSyncConfig struct {
	Symbols    []string
	Timeframe  domain.Timeframe
	Start      time.Time
	BatchSize  int    // symbols per API call
	MaxWorkers int    // concurrent batches
	Feed       string // "iex" or "sip"
	StateDir   string // where sync progress is kept
}

// BarSyncGatherer copies bar history for a symbol list from the Alpaca
// market-data API into a BarStore. It resumes after a crash and is a no-op
// when the latest finished trading day has already been synced.
type BarSyncGatherer struct {
	client barClient
	cal    calendarClient
	store  store.BarStore
	cfg    BarSyncConfig
	now    func() time.Time
	log    *slog.Logger
}

// NewBarSyncGatherer creates a BarSyncGatherer.
func NewBarSyncGatherer(client barClient, cal calendarClient, s store.BarStore, cfg BarSyncConfig) *BarSyncGatherer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = domain.TimeframeDay
	}
	return &BarSyncGatherer{
		client: client,
		cal:    cal,
		store:  s,
		cfg:    cfg,
		now:    time.Now,
		log:    slog.Default().With("gatherer", "bar-sync", "timeframe", string(cfg.Timeframe)),
	}
}

// Name returns the gatherer identifier.
func (g *BarSyncGatherer) Name() string { return "bar-sync" }

// Run syncs every configured symbol up to the latest finished trading day.
func (g *BarSyncGatherer) Run(ctx context.Context) error {
	mtf, err := toTimeFrame(g.cfg.Timeframe)
	if err != nil {
		return err
	}

	endDate, err := LatestFinishedTradingDay(g.cal, g.now())
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	target := endDate.Format(time.DateOnly)
	// Include the whole final session.
	end := endDate.AddDate(0, 0, 1)

	tracker, err := newProgressTracker(g.cfg.StateDir)
	if err != nil {
		return err
	}
	if tracker.IsCompleted(target) {
		g.log.Info("already completed", "endDate", target)
		return nil
	}
	if err := tracker.Begin(target); err != nil {
		return fmt.Errorf("starting sync: %w", err)
	}

	var remaining []string
	for _, sym := range NormalizeSymbols(g.cfg.Symbols) {
		if !tracker.IsEmpty(sym) {
			remaining = append(remaining, sym)
		}
	}

	var batches [][]string
	for i := 0; i < len(remaining); i += g.cfg.BatchSize {
		batches = append(batches, remaining[i:min(i+g.cfg.BatchSize, len(remaining))])
	}

	g.log.Info("starting bar sync",
		"endDate", target,
		"symbols", len(remaining),
		"batches", len(batches),
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg       sync.WaitGroup
		bars     atomic.Int64
		failed   atomic.Int64
		runStart = time.Now()
	)
	for w := 0; w < min(g.cfg.MaxWorkers, len(batches)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.syncBatch(ctx, tracker, batches[idx], mtf, end)
				if err != nil {
					failed.Add(1)
					g.log.Error("batch failed",
						"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
						"err", err,
					)
					continue
				}
				bars.Add(int64(n))
				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
					"bars", n,
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}
	if err := tracker.MarkCompleted(target); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}

	g.log.Info("complete",
		"bars", bars.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// syncBatch fetches one batch, writes the bars and marks symbols that came
// back empty. It returns the number of bars written.
func (g *BarSyncGatherer) syncBatch(ctx context.Context, tracker *progressTracker, batch []string, mtf marketdata.TimeFrame, end time.Time) (int, error) {
	multi, err := g.client.GetMultiBars(batch, marketdata.GetBarsRequest{
		TimeFrame: mtf,
		Start:     g.cfg.Start,
		End:       end,
		Feed:      marketdata.Feed(g.cfg.Feed),
	})
	if err != nil {
		return 0, fmt.Errorf("GetMultiBars: %w", err)
	}

	var (
		all   []domain.Bar
		empty []string
	)
	for _, sym := range batch {
		raw := multi[sym]
		if len(raw) == 0 {
			empty = append(empty, sym)
			continue
		}
		all = append(all, toBars(sym, raw)...)
	}

	if len(all) > 0 {
		if err := g.store.WriteBars(ctx, g.cfg.Timeframe, all); err != nil {
			return 0, fmt.Errorf("writing bars: %w", err)
		}
	}
	if err := tracker.MarkEmpty(empty); err != nil {
		g.log.Error("marking empty failed", "err", err)
	}
	return len(all), nil
}
