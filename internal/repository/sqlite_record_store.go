package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	"FinCast/pkg/sqlite"
)

var sqliteRecordSchema = []string{
	`CREATE TABLE IF NOT EXISTS stock_predictions (
        id              INTEGER PRIMARY KEY AUTOINCREMENT,
        symbol          TEXT    NOT NULL,
        prediction_date INTEGER NOT NULL,
        actual_price    TEXT,
        predicted_price TEXT    NOT NULL,
        confidence      TEXT,
        model_version   TEXT    NOT NULL DEFAULT 'LSTM_v1',
        created_at      INTEGER NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_stock_predictions_symbol_date
        ON stock_predictions (symbol, prediction_date)`,
}

// SQLiteRecordStore implements RecordStore on an embedded database.
// Prices are kept as decimal text and timestamps as unix milliseconds.
type SQLiteRecordStore struct {
	client *sqlite.Client
}

func NewSQLiteRecordStore(client *sqlite.Client) *SQLiteRecordStore {
	return &SQLiteRecordStore{client: client}
}

func (s *SQLiteRecordStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, sqliteRecordSchema)
}

func (s *SQLiteRecordStore) Store(ctx context.Context, r *models.PredictionRecord) error {
	return s.StoreBatch(ctx, []*models.PredictionRecord{r})
}

func (s *SQLiteRecordStore) StoreBatch(ctx context.Context, rs []*models.PredictionRecord) error {
	values := make([]string, 0, len(rs))
	args := make([]interface{}, 0, len(rs)*7)
	for _, r := range rs {
		if r == nil || r.Symbol == "" {
			continue
		}
		var actual interface{}
		if r.ActualPrice != nil {
			actual = r.ActualPrice.StringFixed(2)
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.Symbol,
			r.PredictionDate.UnixMilli(),
			actual,
			r.PredictedPrice.StringFixed(2),
			r.Confidence.StringFixed(4),
			r.ModelVersion,
			r.CreatedAt.UnixMilli(),
		)
	}
	if len(values) == 0 {
		return nil
	}
	q := "INSERT INTO stock_predictions (symbol, prediction_date, actual_price, predicted_price, confidence, model_version, created_at) VALUES " +
		strings.Join(values, ",")
	if _, err := s.client.DB().ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%w: insert predictions: %v", errs.ErrPersistenceFailure, err)
	}
	return nil
}

// Query returns records for symbol created in [from, to], newest first.
func (s *SQLiteRecordStore) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.PredictionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
        SELECT symbol, prediction_date, actual_price, predicted_price, confidence, model_version, created_at
        FROM stock_predictions
        WHERE symbol = ? AND created_at >= ? AND created_at <= ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`
	rows, err := s.client.DB().QueryContext(ctx, q, symbol, from.UnixMilli(), to.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query predictions: %v", errs.ErrPersistenceFailure, err)
	}
	defer rows.Close()

	var out []*models.PredictionRecord
	for rows.Next() {
		var (
			r                     models.PredictionRecord
			predDate, createdAt   int64
			actual                sql.NullString
			predicted, confidence string
		)
		if err := rows.Scan(&r.Symbol, &predDate, &actual, &predicted, &confidence, &r.ModelVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan prediction: %v", errs.ErrPersistenceFailure, err)
		}
		if r.PredictedPrice, err = decimal.NewFromString(predicted); err != nil {
			return nil, fmt.Errorf("%w: predicted_price %q: %v", errs.ErrPersistenceFailure, predicted, err)
		}
		if r.Confidence, err = decimal.NewFromString(confidence); err != nil {
			return nil, fmt.Errorf("%w: confidence %q: %v", errs.ErrPersistenceFailure, confidence, err)
		}
		if actual.Valid {
			d, err := decimal.NewFromString(actual.String)
			if err != nil {
				return nil, fmt.Errorf("%w: actual_price %q: %v", errs.ErrPersistenceFailure, actual.String, err)
			}
			r.ActualPrice = &d
		}
		r.PredictionDate = time.UnixMilli(predDate).UTC()
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteRecordStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *SQLiteRecordStore) Close() error {
	return s.client.Close()
}
