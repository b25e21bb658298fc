// Package yahoo fetches daily OHLCV history from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	xhttp "FinCast/pkg/http"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/util"
)

const DefaultBaseURL = "https://query1.finance.yahoo.com"

// Option configures Client.
type Option func(*Client)

// WithBaseURL points the client at another chart API host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAutoAdjust rescales OHLC by the adjusted-close ratio so splits and
// dividends do not show up as price jumps.
func WithAutoAdjust(on bool) Option {
	return func(c *Client) {
		c.autoAdjust = on
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		c.l = l
	}
}

// Client implements repository.MarketDataSource. It never retries.
type Client struct {
	http       *xhttp.Client
	baseURL    string
	autoAdjust bool
	l          *applogger.Logger
}

func NewClient(hc *xhttp.Client, opts ...Option) *Client {
	c := &Client{http: hc, baseURL: DefaultBaseURL, autoAdjust: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol               string `json:"symbol"`
		Currency             string `json:"currency"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
		GMTOffset            int    `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// Fetch returns the daily bars for symbol over period, oldest first.
func (c *Client) Fetch(ctx context.Context, symbol string, period domrepo.Period) (models.TimeSeries, error) {
	symbol = util.NormalizeSymbol(symbol)
	if symbol == "" {
		return models.TimeSeries{}, fmt.Errorf("%w: empty symbol", errs.ErrInvalidArgument)
	}
	if !period.IsValid() {
		return models.TimeSeries{}, fmt.Errorf("%w: unknown period %q", errs.ErrInvalidArgument, period)
	}

	start := time.Now()
	var resp chartResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    fmt.Sprintf("%s/v8/finance/chart/%s", c.baseURL, url.PathEscape(symbol)),
		QueryParams: map[string][]string{
			"range":                {string(period)},
			"interval":             {"1d"},
			"includeAdjustedClose": {"true"},
			"events":               {"div,splits"},
		},
	}, &resp)
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return models.TimeSeries{}, fmt.Errorf("%w: %s not found", errs.ErrDataUnavailable, symbol)
		}
		c.l.Error("yahoo chart request failed", applogger.String("symbol", symbol), applogger.String("period", string(period)), applogger.Error(err))
		return models.TimeSeries{}, fmt.Errorf("%w: fetch %s: %v", errs.ErrDataUnavailable, symbol, err)
	}
	if e := resp.Chart.Error; e != nil {
		return models.TimeSeries{}, fmt.Errorf("%w: %s: %s", errs.ErrDataUnavailable, symbol, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return models.TimeSeries{}, fmt.Errorf("%w: no result for %s", errs.ErrDataUnavailable, symbol)
	}

	ts, err := c.decode(symbol, resp.Chart.Result[0])
	if err != nil {
		return models.TimeSeries{}, err
	}
	c.l.Debug("yahoo chart ok",
		applogger.String("symbol", symbol),
		applogger.String("period", string(period)),
		applogger.Int("bars", ts.Len()),
		applogger.Duration("took", time.Since(start)),
	)
	return ts, nil
}

func (c *Client) decode(symbol string, r chartResult) (models.TimeSeries, error) {
	if len(r.Timestamp) == 0 {
		return models.TimeSeries{}, fmt.Errorf("%w: empty history for %s", errs.ErrDataUnavailable, symbol)
	}
	if len(r.Indicators.Quote) == 0 {
		return models.TimeSeries{}, fmt.Errorf("%w: missing quote block for %s", errs.ErrDataUnavailable, symbol)
	}
	q := r.Indicators.Quote[0]
	n := len(r.Timestamp)
	for name, col := range map[string][]*float64{"open": q.Open, "high": q.High, "low": q.Low, "close": q.Close, "volume": q.Volume} {
		if len(col) != n {
			return models.TimeSeries{}, fmt.Errorf("%w: column %s has %d values for %d timestamps", errs.ErrDataUnavailable, name, len(col), n)
		}
	}
	var adj []*float64
	if c.autoAdjust && len(r.Indicators.AdjClose) > 0 && len(r.Indicators.AdjClose[0].AdjClose) == n {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	loc := exchangeLocation(r.Meta.ExchangeTimezoneName, r.Meta.GMTOffset)
	ts := models.TimeSeries{Symbol: symbol, Bars: make([]models.Bar, 0, n)}
	for i, sec := range r.Timestamp {
		if !finite(q.Open[i], q.High[i], q.Low[i], q.Close[i]) {
			continue
		}
		bar := models.Bar{
			Date:  util.TradingDay(time.Unix(sec, 0), loc),
			Open:  *q.Open[i],
			High:  *q.High[i],
			Low:   *q.Low[i],
			Close: *q.Close[i],
		}
		if q.Volume[i] != nil {
			bar.Volume = *q.Volume[i]
		}
		if adj != nil && finite(adj[i]) && bar.Close != 0 {
			f := *adj[i] / bar.Close
			bar.Open *= f
			bar.High *= f
			bar.Low *= f
			bar.Close = *adj[i]
		}
		ts.Bars = append(ts.Bars, bar)
	}
	if ts.Len() == 0 {
		return models.TimeSeries{}, fmt.Errorf("%w: no complete bars for %s", errs.ErrDataUnavailable, symbol)
	}
	ts.Normalize()
	return ts, nil
}

func finite(vs ...*float64) bool {
	for _, v := range vs {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return false
		}
	}
	return true
}

func exchangeLocation(name string, offset int) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.FixedZone("exchange", offset)
}
