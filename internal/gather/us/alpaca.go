// Package us implements the market-data gatherers for US equities backed by
// the Alpaca APIs.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"meridian/internal/domain"
	"meridian/internal/gather"
	"meridian/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.MarketData = (*AlpacaSource)(nil)
var _ barClient = (*marketdata.Client)(nil)

// barClient is the subset of *marketdata.Client used here.
type barClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// DefaultPriceLookback is the trailing window LatestPrice reads 1Min bars from.
const DefaultPriceLookback = time.Minute

// AlpacaSource serves historical and trailing bars plus latest prices from
// the Alpaca market-data API.
type AlpacaSource struct {
	client        barClient
	feed          string
	priceLookback time.Duration
	limiter       *util.RateLimiter
	attempts      int
	backoff       time.Duration
	now           func() time.Time
	log           *slog.Logger
}

// NewAlpacaClient builds the market-data client shared by the data sources.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// NewAlpacaSource creates an AlpacaSource. feed selects the data feed ("iex"
// or "sip"); rateLimitPerMin <= 0 disables client-side rate limiting.
func NewAlpacaSource(client barClient, feed string, rateLimitPerMin int) *AlpacaSource {
	s := &AlpacaSource{
		client:        client,
		feed:          feed,
		priceLookback: DefaultPriceLookback,
		attempts:      3,
		backoff:       500 * time.Millisecond,
		now:           time.Now,
		log:           slog.Default().With("component", "alpaca-data"),
	}
	if rateLimitPerMin > 0 {
		s.limiter = util.NewRateLimiter(rateLimitPerMin)
	}
	return s
}

// WithPriceLookback sets the trailing window used by LatestPrice.
func (s *AlpacaSource) WithPriceLookback(d time.Duration) *AlpacaSource {
	if d > 0 {
		s.priceLookback = d
	}
	return s
}

// GetBars returns the bars of symbol over [start, end] in ascending order.
func (s *AlpacaSource) GetBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	mtf, err := toTimeFrame(tf)
	if err != nil {
		return nil, err
	}

	var raw []marketdata.Bar
	err = s.call(ctx, func() error {
		var err error
		raw, err = s.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: mtf,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(s.feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	return toBars(symbol, raw), nil
}

// LatestPrice returns the close of the first 1Min bar in the trailing price
// window, or 0 when the window holds no bars.
func (s *AlpacaSource) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	end := s.now()
	bars, err := s.GetBars(ctx, symbol, domain.TimeframeMinute, end.Add(-s.priceLookback), end)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}
	return bars[0].Close, nil
}

// call runs fn behind the rate limiter with retries.
func (s *AlpacaSource) call(ctx context.Context, fn func() error) error {
	b := util.Backoff{Attempts: s.attempts, BaseDelay: s.backoff, MaxDelay: 8 * s.backoff}
	return b.Do(ctx, func() error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return util.Permanent(err)
			}
		}
		return fn()
	})
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func toTimeFrame(tf domain.Timeframe) (marketdata.TimeFrame, error) {
	switch tf {
	case domain.TimeframeMinute:
		return marketdata.OneMin, nil
	case domain.Timeframe4Hour:
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case domain.TimeframeDay:
		return marketdata.OneDay, nil
	case domain.TimeframeMonth:
		return marketdata.NewTimeFrame(1, marketdata.Month), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %q", tf)
}

func toBars(symbol string, raw []marketdata.Bar) []domain.Bar {
	symbol = strings.ToUpper(symbol)
	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars
}
