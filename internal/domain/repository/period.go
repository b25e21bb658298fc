package repository

import (
	"fmt"
	"strings"
	"time"

	"FinCast/internal/domain/errs"
)

// Period is a market-data lookback range understood by every source.
type Period string

const (
	Period1D  Period = "1d"
	Period5D  Period = "5d"
	Period1Mo Period = "1mo"
	Period3Mo Period = "3mo"
	Period6Mo Period = "6mo"
	Period1Y  Period = "1y"
	Period2Y  Period = "2y"
	Period5Y  Period = "5y"
	Period10Y Period = "10y"
	PeriodYTD Period = "ytd"
	PeriodMax Period = "max"
)

// ordered lists fixed-length periods by span together with a conservative
// count of trading days each one covers.
var ordered = []struct {
	p    Period
	bars int
}{
	{Period1D, 1},
	{Period5D, 4},
	{Period1Mo, 19},
	{Period3Mo, 58},
	{Period6Mo, 120},
	{Period1Y, 248},
	{Period2Y, 498},
	{Period5Y, 1250},
	{Period10Y, 2510},
}

func (p Period) IsValid() bool {
	switch p {
	case PeriodYTD, PeriodMax:
		return true
	}
	for _, o := range ordered {
		if o.p == p {
			return true
		}
	}
	return false
}

// ParsePeriod validates a raw period string.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: unknown period %q", errs.ErrInvalidArgument, s)
	}
	return p, nil
}

// ApproxBars is the number of trading days a period reliably yields.
// ytd and max have no fixed span and report 0 and -1 respectively.
func (p Period) ApproxBars() int {
	switch p {
	case PeriodYTD:
		return 0
	case PeriodMax:
		return -1
	}
	for _, o := range ordered {
		if o.p == p {
			return o.bars
		}
	}
	return 0
}

// Covering returns p, or the shortest longer period expected to yield at
// least n bars.
func Covering(p Period, n int) Period {
	if p == PeriodMax || p.ApproxBars() >= n {
		return p
	}
	for _, o := range ordered {
		if o.bars >= n {
			return o.p
		}
	}
	return PeriodMax
}

// Start returns the first calendar day p covers when looking back from now.
// max yields the zero time.
func (p Period) Start(now time.Time) time.Time {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch p {
	case Period1D:
		return today.AddDate(0, 0, -1)
	case Period5D:
		return today.AddDate(0, 0, -5)
	case Period1Mo:
		return today.AddDate(0, -1, 0)
	case Period3Mo:
		return today.AddDate(0, -3, 0)
	case Period6Mo:
		return today.AddDate(0, -6, 0)
	case Period1Y:
		return today.AddDate(-1, 0, 0)
	case Period2Y:
		return today.AddDate(-2, 0, 0)
	case Period5Y:
		return today.AddDate(-5, 0, 0)
	case Period10Y:
		return today.AddDate(-10, 0, 0)
	case PeriodYTD:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, now.Location())
	}
	return time.Time{}
}
