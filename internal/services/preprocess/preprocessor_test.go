package preprocess

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
)

func series(closes ...float64) models.TimeSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{Date: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return models.TimeSeries{Symbol: "TEST", Bars: bars}
}

func ramp(n int, base float64) models.TimeSeries {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = base + float64(i) + 3*math.Sin(float64(i)/4)
	}
	return series(closes...)
}

func TestScalerRoundTrip(t *testing.T) {
	p := New(5)
	ts := series(10, 12.5, 8, 30, 22)

	scaled, err := p.FitTransform(ts)
	require.NoError(t, err)
	for _, v := range scaled {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.InDelta(t, 0.0, scaled[2], 1e-12)
	assert.InDelta(t, 1.0, scaled[3], 1e-12)

	back, err := p.InverseTransform(scaled)
	require.NoError(t, err)
	assert.InDeltaSlice(t, ts.Closes(), back, 1e-9)
}

func TestScalerConstantSeries(t *testing.T) {
	s := NewMinMaxScaler()
	out, err := s.FitTransform([]float64{5, 5, 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, out)

	back, err := s.InverseTransform(out)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 5, 5}, back)
}

func TestUnfittedScalerFails(t *testing.T) {
	p := New(3)
	_, err := p.Transform(series(1, 2, 3))
	assert.ErrorIs(t, err, errs.ErrScalerNotFitted)

	_, err = p.InverseTransform([]float64{0.5})
	assert.ErrorIs(t, err, errs.ErrScalerNotFitted)

	_, err = p.PrepareInferenceWindow(series(1, 2, 3))
	assert.ErrorIs(t, err, errs.ErrScalerNotFitted)
}

func TestCreateSequences(t *testing.T) {
	scaled := []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6}

	seqs := CreateSequences(scaled, 3)
	require.Len(t, seqs, 4)
	for i, s := range seqs {
		assert.Equal(t, scaled[i:i+3], s.Window)
		assert.Equal(t, scaled[i+3], s.Label)
	}

	assert.Empty(t, CreateSequences(scaled, 7))
	assert.Empty(t, CreateSequences(scaled, 10))
}

func TestSplitIndexMonotonic(t *testing.T) {
	prev := -1
	for split := 0.05; split <= 1.0; split += 0.05 {
		idx := SplitIndex(70, split)
		assert.GreaterOrEqual(t, idx, prev)
		prev = idx
	}
	assert.Equal(t, 0, SplitIndex(70, 0))
	assert.Equal(t, 70, SplitIndex(70, 1))
}

func TestTrainingScenarioCounts(t *testing.T) {
	p := New(60)
	scaled, err := p.FitTransform(ramp(130, 100))
	require.NoError(t, err)

	seqs := p.CreateSequences(scaled)
	require.Len(t, seqs, 70)

	train, val := SplitSequences(seqs, 0.8)
	assert.Len(t, train, 56)
	assert.Len(t, val, 14)
	assert.Equal(t, seqs[55].Label, train[len(train)-1].Label)
	assert.Equal(t, seqs[56].Label, val[0].Label)

	x, y := Unzip(val)
	assert.Len(t, x, 14)
	assert.Len(t, y, 14)
	assert.Len(t, x[0], 60)
}

func TestPrepareInferenceWindow(t *testing.T) {
	p := New(4)
	ts := ramp(10, 50)
	_, err := p.FitTransform(ts)
	require.NoError(t, err)

	batch, err := p.PrepareInferenceWindow(ts)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Len(t, batch[0], 4)

	all, err := p.Transform(ts)
	require.NoError(t, err)
	assert.Equal(t, all[6:], batch[0])

	_, err = p.PrepareInferenceWindow(ts.Tail(3))
	assert.ErrorIs(t, err, errs.ErrInsufficientData)
}

func TestPriceChangePercent(t *testing.T) {
	ts := series(100, 110, 120, 150)

	assert.InDelta(t, 25.0, PriceChangePercent(ts, 1), 1e-9)
	assert.InDelta(t, 50.0, PriceChangePercent(ts, 3), 1e-9)
	assert.Equal(t, 0.0, PriceChangePercent(ts, 4))
	assert.Equal(t, 0.0, PriceChangePercent(series(), 1))
	assert.Equal(t, 150.0, LatestPrice(ts))
	assert.Equal(t, 0.0, LatestPrice(series()))
}

func TestRealizedVolatility(t *testing.T) {
	flat := LogReturns([]float64{10, 10, 10, 10})
	assert.Equal(t, 0.0, RealizedVolatility(flat, 3))
	assert.Equal(t, 0.0, RealizedVolatility(flat, 10))

	vol := RealizedVolatility(LogReturns([]float64{100, 101, 99, 102, 100, 103}), 5)
	assert.Greater(t, vol, 0.0)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 187.26, Round2(187.2551))
	assert.Equal(t, -3.14, Round2(-3.1449))
}
