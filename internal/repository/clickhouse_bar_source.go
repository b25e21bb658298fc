package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	pkgch "FinCast/pkg/clickhouse"
	applogger "FinCast/pkg/logger"
)

// CHBarSource implements MarketDataSource over a ClickHouse table of daily
// bars (date, symbol, open, high, low, close, volume).
type CHBarSource struct {
	db    *sql.DB
	table string
	now   func() time.Time
	l     *applogger.Logger
}

func NewCHBarSource(ch *pkgch.Client, table string) *CHBarSource {
	return &CHBarSource{db: ch.DB(), table: table, now: time.Now}
}

// SetLogger injects a structured logger.
func (s *CHBarSource) SetLogger(l *applogger.Logger) { s.l = l }

// BarsSchema returns the DDL for the bars table.
func BarsSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            date   Date,
            symbol LowCardinality(String),
            open   Float64,
            high   Float64,
            low    Float64,
            close  Float64,
            volume Float64
        ) ENGINE = ReplacingMergeTree
        ORDER BY (symbol, date)
    `, table)}
}

func (s *CHBarSource) Fetch(ctx context.Context, symbol string, period domrepo.Period) (models.TimeSeries, error) {
	start := time.Now()
	from := period.Start(s.now().UTC())
	const qtpl = `
        SELECT date, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND date >= ?
        ORDER BY date ASC
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), symbol, from)
	if err != nil {
		s.l.Error("clickhouse fetch_bars query error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.String("period", string(period)),
			applogger.Error(err),
		)
		return models.TimeSeries{}, fmt.Errorf("%w: query bars for %s: %v", errs.ErrDataUnavailable, symbol, err)
	}
	defer rows.Close()

	ts := models.TimeSeries{Symbol: symbol, Bars: make([]models.Bar, 0, 512)}
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			s.l.Error("clickhouse fetch_bars scan error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			return models.TimeSeries{}, fmt.Errorf("%w: scan bar: %v", errs.ErrDataUnavailable, err)
		}
		ts.Bars = append(ts.Bars, b)
	}
	if err := rows.Err(); err != nil {
		s.l.Error("clickhouse fetch_bars rows error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return models.TimeSeries{}, fmt.Errorf("%w: rows: %v", errs.ErrDataUnavailable, err)
	}
	if ts.Len() == 0 {
		return models.TimeSeries{}, fmt.Errorf("%w: no bars for %s over %s", errs.ErrDataUnavailable, symbol, period)
	}
	ts.Normalize()

	s.l.Debug("clickhouse fetch_bars ok",
		applogger.String("symbol", symbol),
		applogger.String("period", string(period)),
		applogger.Int("rows", ts.Len()),
		applogger.Duration("duration", time.Since(start)),
	)
	return ts, nil
}
