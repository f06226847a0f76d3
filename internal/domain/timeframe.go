package domain

import (
	"fmt"
	"strings"
)

// Timeframe is a bar granularity in Alpaca notation.
type Timeframe string

const (
	TimeframeMinute Timeframe = "1Min"
	Timeframe4Hour  Timeframe = "4Hour"
	TimeframeDay    Timeframe = "1Day"
	TimeframeMonth  Timeframe = "1Month"
)

// backtestTimeframes maps the user-facing backtest timeframe keys to bar
// granularities.
var backtestTimeframes = map[string]Timeframe{
	"H4":      Timeframe4Hour,
	"DAILY":   TimeframeDay,
	"MONTHLY": TimeframeMonth,
}

// ParseBacktestTimeframe resolves a backtest timeframe key (H4, DAILY,
// MONTHLY) or a raw Timeframe value.
func ParseBacktestTimeframe(s string) (Timeframe, error) {
	if tf, ok := backtestTimeframes[strings.ToUpper(s)]; ok {
		return tf, nil
	}
	switch tf := Timeframe(s); tf {
	case TimeframeMinute, Timeframe4Hour, TimeframeDay, TimeframeMonth:
		return tf, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}
