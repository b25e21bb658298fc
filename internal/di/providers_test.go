package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/repository"
	"FinCast/pkg/config"
	"FinCast/pkg/metrics"
)

func TestProvidePredictorConfigDefaults(t *testing.T) {
	pcfg, err := ProvidePredictorConfig(config.Default())
	require.NoError(t, err)

	assert.Equal(t, 60, pcfg.Model.Window)
	assert.Equal(t, 50, pcfg.Model.Units)
	assert.Equal(t, 3, pcfg.Model.Layers)
	assert.Equal(t, repository.Period2Y, pcfg.TrainPeriod)
	assert.Equal(t, repository.Period3Mo, pcfg.PredictPeriod)
	assert.Equal(t, 100, pcfg.Epochs)
	assert.Equal(t, 15, pcfg.EarlyStopping)
	assert.InDelta(t, 0.85, pcfg.Confidence, 1e-12)
	assert.Equal(t, 30, pcfg.MaxDaysAhead)
}

func TestProvidePredictorConfigRejectsBadPeriod(t *testing.T) {
	cfg := config.Default()
	cfg.Training.Period = "3w"
	_, err := ProvidePredictorConfig(cfg)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestProvideCachesWithoutRedis(t *testing.T) {
	caches := ProvideCaches(config.Default(), nil)
	t.Cleanup(func() { _ = caches.Market.Close() })
	assert.Same(t, caches.Market, caches.Jobs)
}

func TestOptionalProvidersStayNil(t *testing.T) {
	cfg := config.Default()
	cfg.Records.Enabled = false

	ch, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)

	sq, err := ProvideSQLiteClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, sq)

	producer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, producer)

	store, err := ProvideRecordStore(cfg, nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.Nil(t, ProvideRecordPublisher(cfg, nil))
	assert.Nil(t, ProvideRecorder(cfg, nil, nil, metrics.Nop{}, nil))
}

func TestProvideMetricsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	assert.IsType(t, metrics.Nop{}, ProvideMetrics(cfg))
}
