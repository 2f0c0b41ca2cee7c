package chaidata

import (
	"fmt"
	"time"
)

// Minutes is the granularity of a historic retrieval interval. Only divisors
// of 30 are valid so that intervals always align to hour boundaries.
type Minutes int

const (
	Min1  Minutes = 1
	Min2  Minutes = 2
	Min3  Minutes = 3
	Min5  Minutes = 5
	Min6  Minutes = 6
	Min10 Minutes = 10
	Min15 Minutes = 15
	Min30 Minutes = 30
)

// Valid reports whether m is one of the supported granularities.
func (m Minutes) Valid() bool {
	switch m {
	case Min1, Min2, Min3, Min5, Min6, Min10, Min15, Min30:
		return true
	}
	return false
}

// Duration returns the interval length as a time.Duration.
func (m Minutes) Duration() time.Duration {
	return time.Duration(m) * time.Minute
}

func (m Minutes) String() string {
	return fmt.Sprintf("%dm", int(m))
}

// RoundDown rounds t down to the nearest multiple of m within the hour.
// Seconds and smaller units are dropped.
func RoundDown(t time.Time, m Minutes) time.Time {
	minute := (t.Minute() / int(m)) * int(m)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}

// RoundUp rounds t up to the nearest multiple of m within the hour. A time
// already on a boundary is returned unchanged apart from dropped sub-minute
// units.
func RoundUp(t time.Time, m Minutes) time.Time {
	down := RoundDown(t, m)
	if t.Minute()%int(m) == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return down
	}
	return down.Add(m.Duration())
}
