package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	"FinCast/internal/repository"
	"FinCast/internal/services/lstm"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/metrics"
)

// fakeSource serves fixed series per symbol and remembers the periods it
// was asked for.
type fakeSource struct {
	mu      sync.Mutex
	series  map[string]models.TimeSeries
	periods []domrepo.Period
}

func newFakeSource() *fakeSource {
	return &fakeSource{series: make(map[string]models.TimeSeries)}
}

func (f *fakeSource) add(symbol string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[symbol] = syntheticSeries(symbol, n)
}

func (f *fakeSource) Fetch(ctx context.Context, symbol string, period domrepo.Period) (models.TimeSeries, error) {
	if err := ctx.Err(); err != nil {
		return models.TimeSeries{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.periods = append(f.periods, period)
	ts, ok := f.series[symbol]
	if !ok {
		return models.TimeSeries{}, fmt.Errorf("%w: no data for %s", errs.ErrDataUnavailable, symbol)
	}
	return ts, nil
}

func (f *fakeSource) lastPeriod() domrepo.Period {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.periods) == 0 {
		return ""
	}
	return f.periods[len(f.periods)-1]
}

// blockingSource parks every Fetch until its context ends.
type blockingSource struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingSource) Fetch(ctx context.Context, _ string, _ domrepo.Period) (models.TimeSeries, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return models.TimeSeries{}, ctx.Err()
}

// gatedSource parks fetches for one period until release is closed.
type gatedSource struct {
	*fakeSource
	gated   domrepo.Period
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSource) Fetch(ctx context.Context, symbol string, period domrepo.Period) (models.TimeSeries, error) {
	if period == g.gated {
		g.once.Do(func() { close(g.started) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return models.TimeSeries{}, ctx.Err()
		}
	}
	return g.fakeSource.Fetch(ctx, symbol, period)
}

func syntheticSeries(symbol string, n int) models.TimeSeries {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	ts := models.TimeSeries{Symbol: symbol, Bars: make([]models.Bar, n)}
	for i := range ts.Bars {
		c := 100 + 10*math.Sin(float64(i)/4) + 0.1*float64(i)
		ts.Bars[i] = models.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   c - 0.5,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: float64(1000 + i),
		}
	}
	return ts
}

// smallConfig trains in milliseconds.
func smallConfig(window int) PredictorConfig {
	c := DefaultPredictorConfig()
	c.Model = lstm.DefaultConfig(window)
	c.Model.Layers = 1
	c.Model.Units = 3
	c.Model.DenseUnits = 2
	c.Model.Dropout = 0
	c.Model.LearningRate = 0.01
	c.Epochs = 2
	c.BatchSize = 8
	c.Workers = 1
	return c
}

type testEnv struct {
	cfg    PredictorConfig
	source *fakeSource
	store  *repository.FileModelStore
	reg    *Registry
}

func newTestEnv(dir string, cfg PredictorConfig) *testEnv {
	src := newFakeSource()
	store := repository.NewFileModelStore(dir)
	return &testEnv{
		cfg:    cfg,
		source: src,
		store:  store,
		reg:    NewRegistry(cfg, src, store, metrics.Nop{}, applogger.Nop()),
	}
}

// countingMetrics keeps record outcomes.
type countingMetrics struct {
	metrics.Nop
	mu      sync.Mutex
	records map[string]int
}

func (m *countingMetrics) RecordRecord(backend, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]int)
	}
	m.records[backend+"/"+result]++
}

func (m *countingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[key]
}
