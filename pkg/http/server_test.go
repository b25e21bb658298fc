package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "FinCast/pkg/logger"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/boom", func(echo.Context) error { panic("boom") })
	e.GET("/conflict", func(c echo.Context) error {
		return AppErrorResponse(c, ConflictError("ERR_MODEL_NOT_TRAINED", "model not trained"))
	})
	e.GET("/plain", func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("db password leaked in message"))
	})
	e.POST("/validate", func(c echo.Context) error {
		var req struct {
			Symbol string `json:"symbol" validate:"required"`
			Days   int    `json:"days_ahead" default:"1" validate:"gte=1,lte=30"`
		}
		if verrs := ReadAndValidateRequest(c, &req); verrs != nil {
			return BadRequestResponse(c, verrs)
		}
		return SuccessResponse(c, req.Days)
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewServer(applogger.Nop(), []Handler{pingHandler{}}, WithMetrics(true, reg, reg))
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestServer_RecoversPanics(t *testing.T) {
	rec := do(newTestServer(t), http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong")
}

func TestServer_AppErrorStatus(t *testing.T) {
	s := newTestServer(t)
	rec := do(s, http.MethodGet, "/conflict", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_MODEL_NOT_TRAINED")

	rec = do(s, http.MethodGet, "/plain", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestServer_ValidationDefaultsAndErrors(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, http.MethodPost, "/validate", `{"symbol":"AAPL"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ok APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	assert.Equal(t, float64(1), ok.Data)

	rec = do(s, http.MethodPost, "/validate", `{"days_ahead":99}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var bad struct {
		Data []ValidationError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bad))
	fields := map[string]string{}
	for _, e := range bad.Data {
		fields[e.Field] = e.Code
	}
	assert.Equal(t, "ERR_REQUIRED", fields["symbol"])
	assert.Equal(t, "ERR_LTE", fields["days_ahead"])
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rec := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	s.AddHealthCheck("store", func(context.Context) error { return errors.New("down") })
	rec = do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"down"`)

	rec = do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
