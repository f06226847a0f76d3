package longshort

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meridian/internal/domain"
	"meridian/internal/util"
)

// Runner defaults.
const (
	DefaultInterval    = time.Minute
	DefaultCloseBuffer = 15 * time.Minute
)

// Observer receives the Runner's status line, position snapshots and cycle
// reports. Implementations must not block.
type Observer interface {
	OnStatus(status string)
	OnPositions(positions []domain.Position)
	OnCycle(report *CycleReport)
}

// MarketView is the read side of the broker the Runner needs.
// *engine.Engine implements it.
type MarketView interface {
	Clock(ctx context.Context) (*domain.Clock, error)
	Positions(ctx context.Context) ([]domain.Position, error)
}

// Cycler runs one rebalance cycle. *Rebalancer implements it.
type Cycler interface {
	Rebalance(ctx context.Context, now time.Time) (*CycleReport, error)
}

// RunnerConfig controls the Runner schedule.
type RunnerConfig struct {
	// Interval is the gap between cycles and the minimum spacing enforced by
	// the rate gate.
	Interval time.Duration
	// CloseBuffer skips rebalancing when the market closes within it. Zero
	// disables the gate.
	CloseBuffer time.Duration
}

// Runner drives rebalance cycles on a single timer while the market is open
// and sleeps until the next open when it is closed.
type Runner struct {
	cycler  Cycler
	market  MarketView
	obs     Observer
	cfg     RunnerConfig
	now     func() time.Time
	lastRun time.Time
	log     *slog.Logger
}

// NewRunner creates a Runner. obs may be nil.
func NewRunner(cycler Cycler, market MarketView, obs Observer, cfg RunnerConfig) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Runner{
		cycler: cycler,
		market: market,
		obs:    obs,
		cfg:    cfg,
		now:    time.Now,
		log:    slog.Default().With("component", "runner"),
	}
}

// Run fires the first cycle immediately and keeps scheduling until ctx is
// cancelled. In-flight orders are not unwound on exit.
func (r *Runner) Run(ctx context.Context) error {
	r.status("Initializing...")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.status("Stopped")
			return nil
		case <-timer.C:
		}
		timer.Reset(r.step(ctx))
	}
}

// step runs one timer fire and returns the delay until the next.
func (r *Runner) step(ctx context.Context) time.Duration {
	now := r.now()

	// Rate gate.
	if !r.lastRun.IsZero() {
		if elapsed := now.Sub(r.lastRun); elapsed < r.cfg.Interval {
			return r.cfg.Interval - elapsed
		}
	}

	r.status("Checking market status...")
	clock, err := r.market.Clock(ctx)
	if err != nil {
		r.log.Error("reading market clock", "err", err)
		r.status(fmt.Sprintf("Error: %v", err))
		return r.cfg.Interval
	}
	if !clock.IsOpen {
		wait := util.UntilOpen(now, clock.NextOpen)
		r.status(fmt.Sprintf("Market is closed. Opens in %s", util.HumanizeDuration(wait)))
		r.log.Info("market closed", "nextOpen", clock.NextOpen, "wait", wait.Round(time.Second))
		if wait <= 0 {
			return r.cfg.Interval
		}
		return wait
	}
	r.lastRun = now

	r.refreshPositions(ctx)

	if r.cfg.CloseBuffer > 0 && !clock.NextClose.IsZero() {
		if toClose := clock.NextClose.Sub(now); toClose <= r.cfg.CloseBuffer {
			r.status(fmt.Sprintf("Market closes in %s, not rebalancing", util.HumanizeDuration(toClose)))
			return r.cfg.Interval
		}
	}

	r.status("Checking positions...")
	report, err := r.cycler.Rebalance(ctx, now)
	if err != nil {
		r.log.Error("rebalance cycle failed", "err", err)
		r.status(fmt.Sprintf("Error: %v", err))
		return r.cfg.Interval
	}
	if r.obs != nil {
		r.obs.OnCycle(report)
	}
	r.refreshPositions(ctx)
	r.status(fmt.Sprintf("Rebalanced at %s", now.UTC().Format(time.TimeOnly)))
	return r.cfg.Interval
}

func (r *Runner) refreshPositions(ctx context.Context) {
	positions, err := r.market.Positions(ctx)
	if err != nil {
		r.log.Warn("updating positions", "err", err)
		return
	}
	if r.obs != nil {
		r.obs.OnPositions(positions)
	}
}

func (r *Runner) status(s string) {
	r.log.Debug("status", "status", s)
	if r.obs != nil {
		r.obs.OnStatus(s)
	}
}
