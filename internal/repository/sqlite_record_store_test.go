package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/models"
	"FinCast/pkg/sqlite"
)

func newSQLiteStore(t *testing.T) *SQLiteRecordStore {
	t.Helper()
	client, err := sqlite.Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	store := NewSQLiteRecordStore(client)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.Init(context.Background()))
	return store
}

func TestSQLiteRecordStore_StoreAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first := models.NewPredictionRecord(models.PredictionResult{
		Symbol: "AAPL", PredictedPrice: 187.256, Confidence: 0.85, ModelVersion: "LSTM_v1-x", AsOfDate: base,
	}, base)
	second := models.NewPredictionRecord(models.PredictionResult{
		Symbol: "AAPL", PredictedPrice: 190.1, Confidence: 0.85, ModelVersion: "LSTM_v1-x", AsOfDate: base,
	}, base.Add(time.Hour))
	actual := decimal.RequireFromString("189.50")
	second.ActualPrice = &actual
	other := models.NewPredictionRecord(models.PredictionResult{Symbol: "MSFT", PredictedPrice: 400}, base)

	require.NoError(t, store.Store(ctx, &first))
	require.NoError(t, store.StoreBatch(ctx, []*models.PredictionRecord{&second, &other, nil}))

	got, err := store.Query(ctx, "AAPL", base.Add(-time.Minute), base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].PredictedPrice.Equal(decimal.RequireFromString("190.10")))
	require.NotNil(t, got[0].ActualPrice)
	assert.True(t, got[0].ActualPrice.Equal(actual))
	assert.True(t, got[1].PredictedPrice.Equal(decimal.RequireFromString("187.26")))
	assert.True(t, got[1].Confidence.Equal(decimal.RequireFromString("0.85")))
	assert.Nil(t, got[1].ActualPrice)
	assert.True(t, got[1].CreatedAt.Equal(base))
	assert.Equal(t, "LSTM_v1-x", got[1].ModelVersion)

	limited, err := store.Query(ctx, "AAPL", base.Add(-time.Minute), base.Add(2*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.Health(ctx))
}

func TestSQLiteRecordStore_EmptyBatch(t *testing.T) {
	store := newSQLiteStore(t)
	assert.NoError(t, store.StoreBatch(context.Background(), nil))
}
