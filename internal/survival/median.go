// Package survival condenses campaign reports into per-bug median times,
// treating bugs a trial never reached or triggered as right-censored.
package survival

import (
	"math"
	"slices"
	"strconv"
)

// Duration is a time-to-event in seconds. A censored duration only says the
// event did not happen before the horizon.
type Duration struct {
	seconds  int64
	censored bool
}

func Observed(seconds int64) Duration { return Duration{seconds: seconds} }

func Censored(horizon int64) Duration { return Duration{seconds: horizon, censored: true} }

func (d Duration) IsCensored() bool { return d.censored }

// Seconds is the observed time, or the horizon for a censored value.
func (d Duration) Seconds() int64 { return d.seconds }

type Median struct {
	Seconds  float64
	Infinite bool
}

var infinite = Median{Infinite: true}

// MedianOf orders censored values after every observed one and treats them as
// +inf. An empty sample has an infinite median.
func MedianOf(ds []Duration) Median {
	n := len(ds)
	if n == 0 {
		return infinite
	}
	observed := make([]int64, 0, n)
	for _, d := range ds {
		if !d.censored {
			observed = append(observed, d.seconds)
		}
	}
	slices.Sort(observed)

	upper := n / 2
	if upper >= len(observed) {
		return infinite
	}
	if n%2 == 1 {
		return Median{Seconds: float64(observed[upper])}
	}
	return Median{Seconds: float64(observed[upper-1]+observed[upper]) / 2}
}

// Minutes rounds up to whole minutes, the unit reports are read in.
func (m Median) Minutes() (int64, bool) {
	if m.Infinite {
		return 0, false
	}
	return int64(math.Ceil(m.Seconds / 60)), true
}

func (m Median) String() string {
	mins, ok := m.Minutes()
	if !ok {
		return "inf"
	}
	return strconv.FormatInt(mins, 10)
}
