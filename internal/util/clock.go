package util

import (
	"fmt"
	"time"
)

// HumanizeDuration renders d as "X hours and Y minutes", dropping the hours
// part when it is zero. Negative durations render as zero minutes.
func HumanizeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%d %s and %d %s", hours, plural(hours, "hour"), minutes, plural(minutes, "minute"))
	}
	return fmt.Sprintf("%d %s", minutes, plural(minutes, "minute"))
}

// UntilOpen returns how long until nextOpen, or zero when it has passed.
func UntilOpen(now, nextOpen time.Time) time.Duration {
	if d := nextOpen.Sub(now); d > 0 {
		return d
	}
	return 0
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
