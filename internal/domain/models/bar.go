package models

import (
	"sort"
	"time"
)

// Bar is one daily OHLCV record.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// TimeSeries is an ordered run of bars for one symbol. Dates are strictly
// increasing once Normalize has been applied.
type TimeSeries struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

func (ts TimeSeries) Len() int { return len(ts.Bars) }

// Closes returns the close column in chronological order.
func (ts TimeSeries) Closes() []float64 {
	out := make([]float64, len(ts.Bars))
	for i, b := range ts.Bars {
		out[i] = b.Close
	}
	return out
}

// Last returns the most recent bar.
func (ts TimeSeries) Last() (Bar, bool) {
	if len(ts.Bars) == 0 {
		return Bar{}, false
	}
	return ts.Bars[len(ts.Bars)-1], true
}

// Tail returns a series holding at most the last n bars.
func (ts TimeSeries) Tail(n int) TimeSeries {
	if n >= len(ts.Bars) {
		return ts
	}
	if n < 0 {
		n = 0
	}
	return TimeSeries{Symbol: ts.Symbol, Bars: ts.Bars[len(ts.Bars)-n:]}
}

// Normalize sorts bars by date and keeps the last bar seen for each date.
func (ts *TimeSeries) Normalize() {
	sort.SliceStable(ts.Bars, func(i, j int) bool { return ts.Bars[i].Date.Before(ts.Bars[j].Date) })
	if len(ts.Bars) < 2 {
		return
	}
	out := ts.Bars[:1]
	for _, b := range ts.Bars[1:] {
		if b.Date.Equal(out[len(out)-1].Date) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	ts.Bars = out
}

// IsStrictlyIncreasing reports whether every date is after its predecessor.
func (ts TimeSeries) IsStrictlyIncreasing() bool {
	for i := 1; i < len(ts.Bars); i++ {
		if !ts.Bars[i].Date.After(ts.Bars[i-1].Date) {
			return false
		}
	}
	return true
}
