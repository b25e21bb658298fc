package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/errs"
	domrepo "FinCast/internal/domain/repository"
	xhttp "FinCast/pkg/http"
)

const chartOK = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "AAPL", "currency": "USD", "exchangeTimezoneName": "UTC", "gmtoffset": 0},
      "timestamp": [1704204000, 1704117600, 1704290400, 1704376800],
      "indicators": {
        "quote": [{
          "open":   [11, 10, null, 13],
          "high":   [12, 11, 12.5, 14],
          "low":    [10, 9, 11.5, 12],
          "close":  [11.5, 10.5, 12, 13.5],
          "volume": [2000, 1000, 1500, null]
        }],
        "adjclose": [{"adjclose": [5.75, 5.25, 6, 6.75]}]
      }
    }],
    "error": null
  }
}`

func newServer(t *testing.T, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var seen http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = *r
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestFetchParsesAndSortsBars(t *testing.T) {
	srv, seen := newServer(t, http.StatusOK, chartOK)
	c := NewClient(xhttp.NewClient(xhttp.WithTimeout(time.Second)), WithBaseURL(srv.URL), WithAutoAdjust(false))

	ts, err := c.Fetch(context.Background(), " aapl ", domrepo.Period3Mo)
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/AAPL", seen.URL.Path)
	assert.Equal(t, "3mo", seen.URL.Query().Get("range"))
	assert.Equal(t, "1d", seen.URL.Query().Get("interval"))

	assert.Equal(t, "AAPL", ts.Symbol)
	require.Equal(t, 3, ts.Len(), "bar with a null open is dropped")
	assert.True(t, ts.IsStrictlyIncreasing())
	assert.Equal(t, []float64{10.5, 11.5, 13.5}, ts.Closes())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ts.Bars[0].Date)
	assert.Equal(t, 0.0, ts.Bars[2].Volume)
}

func TestFetchAutoAdjust(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, chartOK)
	c := NewClient(xhttp.NewClient(), WithBaseURL(srv.URL))

	ts, err := c.Fetch(context.Background(), "AAPL", domrepo.Period1Mo)
	require.NoError(t, err)
	assert.Equal(t, []float64{5.25, 5.75, 6.75}, ts.Closes())
	assert.InDelta(t, 5.0, ts.Bars[0].Open, 1e-12)
	assert.Equal(t, 1000.0, ts.Bars[0].Volume)
}

func TestFetchErrorsAreDataUnavailable(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"not found":   {http.StatusNotFound, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`},
		"server":      {http.StatusBadGateway, `upstream down`},
		"chart error": {http.StatusOK, `{"chart":{"result":null,"error":{"code":"Bad Request","description":"invalid range"}}}`},
		"empty":       {http.StatusOK, `{"chart":{"result":[{"meta":{},"timestamp":[],"indicators":{"quote":[{}]}}],"error":null}}`},
		"ragged":      {http.StatusOK, `{"chart":{"result":[{"meta":{},"timestamp":[1,2],"indicators":{"quote":[{"open":[1],"high":[1,2],"low":[1,2],"close":[1,2],"volume":[1,2]}]}}],"error":null}}`},
		"all null":    {http.StatusOK, `{"chart":{"result":[{"meta":{},"timestamp":[1],"indicators":{"quote":[{"open":[null],"high":[null],"low":[null],"close":[null],"volume":[null]}]}}],"error":null}}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := newServer(t, tc.status, tc.body)
			c := NewClient(xhttp.NewClient(), WithBaseURL(srv.URL))
			_, err := c.Fetch(context.Background(), "ZZZZ", domrepo.Period1Y)
			assert.ErrorIs(t, err, errs.ErrDataUnavailable)
		})
	}
}

func TestFetchNetworkFault(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(xhttp.NewClient(xhttp.WithTimeout(time.Second)), WithBaseURL(url))
	_, err := c.Fetch(context.Background(), "AAPL", domrepo.Period1Y)
	assert.ErrorIs(t, err, errs.ErrDataUnavailable)
}

func TestFetchRejectsBadArguments(t *testing.T) {
	c := NewClient(xhttp.NewClient())
	_, err := c.Fetch(context.Background(), "AAPL", domrepo.Period("3w"))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = c.Fetch(context.Background(), "  ", domrepo.Period1Y)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
