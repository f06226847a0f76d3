package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"meridian/internal/domain"
)

// ErrRiskLimit marks an order refused by the RiskManager.
var ErrRiskLimit = errors.New("risk limit")

// RiskManager enforces pre-trade risk rules such as position sizing limits
// and maximum daily loss constraints. A zero threshold disables its rule.
type RiskManager struct {
	maxPositionPct  float64
	maxDailyLossPct float64

	mu          sync.Mutex
	day         string
	startEquity float64
}

// NewRiskManager creates a RiskManager with the specified risk thresholds.
//
//   - maxPositionPct: maximum fraction of equity a single order's notional
//     may reach (e.g. 0.10 for 10%).
//   - maxDailyLossPct: maximum fraction of the day's starting equity that may
//     be lost before new orders are refused (e.g. 0.02 for 2%).
func NewRiskManager(maxPositionPct, maxDailyLossPct float64) *RiskManager {
	return &RiskManager{
		maxPositionPct:  maxPositionPct,
		maxDailyLossPct: maxDailyLossPct,
	}
}

// Enabled reports whether any rule is active.
func (rm *RiskManager) Enabled() bool {
	return rm != nil && (rm.maxPositionPct > 0 || rm.maxDailyLossPct > 0)
}

// CheckOrder evaluates whether the proposed order complies with the
// configured risk limits given the current account state. refPrice <= 0
// skips the notional check.
func (rm *RiskManager) CheckOrder(intent domain.OrderIntent, refPrice float64, account *domain.AccountInfo, now time.Time) error {
	if !rm.Enabled() || account == nil {
		return nil
	}

	if rm.maxPositionPct > 0 && refPrice > 0 && account.Equity > 0 {
		notional := float64(intent.Qty) * refPrice
		if limit := rm.maxPositionPct * account.Equity; notional > limit {
			return fmt.Errorf("%w: %s %s notional %.2f exceeds %.2f", ErrRiskLimit, intent.Side, intent.Symbol, notional, limit)
		}
	}

	if rm.maxDailyLossPct > 0 {
		start := rm.observe(now, account.Equity)
		if start > 0 {
			if loss := (start - account.Equity) / start; loss >= rm.maxDailyLossPct {
				return fmt.Errorf("%w: daily loss %.2f%% reached limit %.2f%%", ErrRiskLimit, loss*100, rm.maxDailyLossPct*100)
			}
		}
	}
	return nil
}

// observe records the first equity seen on now's UTC day and returns it.
func (rm *RiskManager) observe(now time.Time, equity float64) float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	day := now.UTC().Format(time.DateOnly)
	if rm.day != day {
		rm.day = day
		rm.startEquity = equity
	}
	return rm.startEquity
}
