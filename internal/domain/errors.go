package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDataGap marks a bar series that is missing, too short or malformed.
	ErrDataGap = errors.New("data gap")

	// ErrSizing marks a rebalance side that could not be sized.
	ErrSizing = errors.New("sizing failed")
)

// DataGapError reports why a symbol's series cannot be used.
type DataGapError struct {
	Symbol string
	Index  int
	Reason string
}

func (e *DataGapError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("data gap for %s at bar %d: %s", e.Symbol, e.Index, e.Reason)
	}
	return fmt.Sprintf("data gap for %s: %s", e.Symbol, e.Reason)
}

// Is lets errors.Is(err, ErrDataGap) match.
func (e *DataGapError) Is(target error) bool { return target == ErrDataGap }

// SizingError reports that one side of a rebalance could not be sized.
type SizingError struct {
	Side   PositionSide
	Reason string
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing %s side: %s", e.Side, e.Reason)
}

// Is lets errors.Is(err, ErrSizing) match.
func (e *SizingError) Is(target error) bool { return target == ErrSizing }
