package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	pkgcache "FinCast/pkg/cache"
	applogger "FinCast/pkg/logger"
)

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (c *countingSource) Fetch(_ context.Context, symbol string, _ domrepo.Period) (models.TimeSeries, error) {
	c.calls.Add(1)
	if c.err != nil {
		return models.TimeSeries{}, c.err
	}
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return models.TimeSeries{Symbol: symbol, Bars: []models.Bar{
		{Date: day, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		{Date: day.AddDate(0, 0, 1), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 200},
	}}, nil
}

func newStore(t *testing.T) *pkgcache.MemoryCache {
	mc := pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestSource_CachesPerSymbolAndPeriod(t *testing.T) {
	ctx := context.Background()
	up := &countingSource{}
	src := NewSource(up, newStore(t), time.Minute, applogger.Nop())

	first, err := src.Fetch(ctx, "AAPL", domrepo.Period1Y)
	require.NoError(t, err)
	second, err := src.Fetch(ctx, "AAPL", domrepo.Period1Y)
	require.NoError(t, err)
	assert.Equal(t, int32(1), up.calls.Load())
	assert.Equal(t, first.Closes(), second.Closes())
	assert.True(t, first.Bars[0].Date.Equal(second.Bars[0].Date))

	_, err = src.Fetch(ctx, "AAPL", domrepo.Period3Mo)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestSource_DoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	up := &countingSource{err: fmt.Errorf("%w: down", errs.ErrDataUnavailable)}
	src := NewSource(up, newStore(t), time.Minute, applogger.Nop())

	_, err := src.Fetch(ctx, "MSFT", domrepo.Period1Y)
	assert.True(t, errors.Is(err, errs.ErrDataUnavailable))
	_, err = src.Fetch(ctx, "MSFT", domrepo.Period1Y)
	assert.Error(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestSource_ZeroTTLPassesThrough(t *testing.T) {
	ctx := context.Background()
	up := &countingSource{}
	src := NewSource(up, newStore(t), 0, applogger.Nop())
	_, _ = src.Fetch(ctx, "AAPL", domrepo.Period1Y)
	_, _ = src.Fetch(ctx, "AAPL", domrepo.Period1Y)
	assert.Equal(t, int32(2), up.calls.Load())
}
