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
	pkgch "FinCast/pkg/clickhouse"
	applogger "FinCast/pkg/logger"
)

// CHRecordStore implements RecordStore on ClickHouse. The connection pool
// belongs to the caller, so Close is a no-op.
type CHRecordStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHRecordStore(ch *pkgch.Client, table string) *CHRecordStore {
	return &CHRecordStore{db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *CHRecordStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHRecordStore) Init(ctx context.Context) error {
	q := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            symbol          LowCardinality(String),
            prediction_date DateTime64(3, 'UTC'),
            actual_price    Nullable(Decimal(10, 2)),
            predicted_price Decimal(10, 2),
            confidence      Decimal(5, 4),
            model_version   LowCardinality(String),
            created_at      DateTime64(3, 'UTC')
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(created_at)
        ORDER BY (symbol, created_at)
    `, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("%w: create %s: %v", errs.ErrPersistenceFailure, s.table, err)
	}
	return nil
}

func (s *CHRecordStore) Store(ctx context.Context, r *models.PredictionRecord) error {
	return s.StoreBatch(ctx, []*models.PredictionRecord{r})
}

// StoreBatch inserts multi-row VALUES in chunks of 2000.
func (s *CHRecordStore) StoreBatch(ctx context.Context, rs []*models.PredictionRecord) error {
	const chunkSize = 2000
	for start := 0; start < len(rs); start += chunkSize {
		end := min(start+chunkSize, len(rs))

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, r := range rs[start:end] {
			if r == nil || r.Symbol == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, r.Symbol, r.PredictionDate.UTC(), r.ActualPrice, r.PredictedPrice, r.Confidence, r.ModelVersion, r.CreatedAt.UTC())
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, prediction_date, actual_price, predicted_price, confidence, model_version, created_at) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse store_predictions error",
				applogger.String("table", s.table),
				applogger.Int("rows", len(values)),
				applogger.Error(err),
			)
			return fmt.Errorf("%w: insert predictions: %v", errs.ErrPersistenceFailure, err)
		}
	}
	return nil
}

func (s *CHRecordStore) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.PredictionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`
        SELECT symbol, prediction_date, actual_price, predicted_price, confidence, model_version, created_at
        FROM %s
        WHERE symbol = ? AND created_at >= ? AND created_at <= ?
        ORDER BY created_at DESC
        LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		s.l.Error("clickhouse query_predictions error", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("%w: query predictions: %v", errs.ErrPersistenceFailure, err)
	}
	defer rows.Close()

	var out []*models.PredictionRecord
	for rows.Next() {
		var (
			r      models.PredictionRecord
			actual decimal.NullDecimal
		)
		if err := rows.Scan(&r.Symbol, &r.PredictionDate, &actual, &r.PredictedPrice, &r.Confidence, &r.ModelVersion, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan prediction: %v", errs.ErrPersistenceFailure, err)
		}
		if actual.Valid {
			d := actual.Decimal
			r.ActualPrice = &d
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *CHRecordStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHRecordStore) Close() error { return nil }
