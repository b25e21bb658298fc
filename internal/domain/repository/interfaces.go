package repository

import (
	"context"
	"time"

	"FinCast/internal/domain/models"
)

// MarketDataSource fetches daily OHLCV history. Implementations return a
// normalized series and wrap every failure in errs.ErrDataUnavailable.
type MarketDataSource interface {
	Fetch(ctx context.Context, symbol string, period Period) (models.TimeSeries, error)
}

// RecordStore persists served predictions.
type RecordStore interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, r *models.PredictionRecord) error
	StoreBatch(ctx context.Context, rs []*models.PredictionRecord) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.PredictionRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// RecordPublisher ships prediction records to a message bus.
type RecordPublisher interface {
	Publish(ctx context.Context, r *models.PredictionRecord) error
	PublishBatch(ctx context.Context, rs []*models.PredictionRecord) error
	Close() error
}

type Metrics interface {
	RecordPrediction(symbol, result string)
	RecordPredictedPrice(symbol string, price float64)
	RecordTraining(symbol, result string, seconds float64, epochs int)
	RecordValidationRMSE(symbol string, rmse float64)
	RecordRecord(backend, result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
