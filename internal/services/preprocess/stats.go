package preprocess

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"FinCast/internal/domain/models"
)

// TradingDaysPerYear annualizes daily volatility.
const TradingDaysPerYear = 252

// LatestPrice returns the most recent close, or 0 for an empty series.
func LatestPrice(ts models.TimeSeries) float64 {
	last, ok := ts.Last()
	if !ok {
		return 0
	}
	return last.Close
}

// PriceChangePercent compares the latest close with the close daysBack bars
// earlier. It returns 0 when history is too short or the reference is zero.
func PriceChangePercent(ts models.TimeSeries, daysBack int) float64 {
	n := ts.Len()
	if daysBack < 1 || n < daysBack+1 {
		return 0
	}
	ref := ts.Bars[n-1-daysBack].Close
	if ref == 0 {
		return 0
	}
	return (ts.Bars[n-1].Close - ref) / ref * 100
}

// LogReturns computes r_t = ln(C_t / C_{t-1}); non-positive prices yield 0.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the annualized sample standard deviation of the
// last window log returns, or 0 when there are not enough returns.
func RealizedVolatility(logReturns []float64, window int) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sd := stat.StdDev(logReturns[len(logReturns)-window:], nil)
	return sd * math.Sqrt(TradingDaysPerYear)
}

// Round2 rounds to cents for user-facing prices.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
