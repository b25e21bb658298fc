// Package cache decorates a market data source with a short-lived cache.
package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	pkgcache "FinCast/pkg/cache"
	applogger "FinCast/pkg/logger"
)

// Source caches Fetch results per (symbol, period). Concurrent misses for
// the same key share one upstream call. Errors are never cached.
type Source struct {
	next  domrepo.MarketDataSource
	store pkgcache.Service
	ttl   time.Duration
	group singleflight.Group
	l     *applogger.Logger
}

func NewSource(next domrepo.MarketDataSource, store pkgcache.Service, ttl time.Duration, l *applogger.Logger) *Source {
	return &Source{next: next, store: store, ttl: ttl, l: l}
}

func (s *Source) Fetch(ctx context.Context, symbol string, period domrepo.Period) (models.TimeSeries, error) {
	if s.ttl <= 0 {
		return s.next.Fetch(ctx, symbol, period)
	}
	key := pkgcache.Key("bars", symbol, string(period))

	var ts models.TimeSeries
	if err := s.store.Get(ctx, key, &ts); err == nil {
		s.l.Debug("market data cache hit", applogger.String("symbol", symbol), applogger.String("period", string(period)))
		return ts, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		fetched, err := s.next.Fetch(ctx, symbol, period)
		if err != nil {
			return models.TimeSeries{}, err
		}
		if err := s.store.Set(ctx, key, fetched, s.ttl); err != nil {
			s.l.Warn("market data cache set failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
		return fetched, nil
	})
	if err != nil {
		return models.TimeSeries{}, err
	}
	return v.(models.TimeSeries), nil
}
