package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	"FinCast/internal/service/ratelimit"
	"FinCast/internal/usecase"
	xhttp "FinCast/pkg/http"
	xlogger "FinCast/pkg/logger"
)

// PredictionHandler exposes the predictor registry and the training job
// manager over HTTP.
type PredictionHandler struct {
	logger   *xlogger.Logger
	registry *usecase.Registry
	jobs     *usecase.TrainingJobs
	recorder *usecase.PredictionRecorder
	records  domrepo.RecordStore
	limiter  *ratelimit.Limiter
}

// NewPredictionHandler wires the handler. recorder, records and limiter may
// be nil: predictions are then not recorded, history answers 503 and
// training submissions are not rate limited.
func NewPredictionHandler(
	logger *xlogger.Logger,
	registry *usecase.Registry,
	jobs *usecase.TrainingJobs,
	recorder *usecase.PredictionRecorder,
	records domrepo.RecordStore,
	limiter *ratelimit.Limiter,
) *PredictionHandler {
	return &PredictionHandler{
		logger:   logger,
		registry: registry,
		jobs:     jobs,
		recorder: recorder,
		records:  records,
		limiter:  limiter,
	}
}

func (h *PredictionHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/predict", h.Predict)
	g.POST("/predict/batch", h.BatchPredict)
	g.GET("/stocks/:symbol", h.StockInfo)
	g.GET("/models", h.ListModels)
	g.GET("/models/:symbol", h.ModelStatus)
	g.GET("/predictions/:symbol", h.History)

	var mw []echo.MiddlewareFunc
	if h.limiter != nil {
		mw = append(mw, h.limiter.Middleware())
	}
	g.POST("/train", h.SubmitTraining, mw...)
	g.GET("/train/:id", h.TrainingStatus)
	g.DELETE("/train/:id", h.CancelTraining)
}

func (h *PredictionHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.registry.Get(req.Symbol)
	if err != nil {
		return h.fail(c, "predict", err)
	}
	res, err := p.PredictPrice(c.Request().Context(), req.DaysAhead)
	if err != nil {
		return h.fail(c, "predict", err)
	}
	h.recorder.Record(c.Request().Context(), *res)
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionHandler) BatchPredict(c echo.Context) error {
	req := &models.BatchPredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res := h.registry.BatchPredict(c.Request().Context(), req.Symbols, req.DaysAhead)

	ok := make([]models.PredictionResult, 0, res.Succeeded)
	for _, e := range res.Entries {
		if e.Result != nil {
			ok = append(ok, *e.Result)
		}
	}
	h.recorder.RecordBatch(c.Request().Context(), ok)
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionHandler) StockInfo(c echo.Context) error {
	p, err := h.registry.Get(c.Param("symbol"))
	if err != nil {
		return h.fail(c, "info", err)
	}
	info, err := p.Info(c.Request().Context())
	if err != nil {
		return h.fail(c, "info", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, info)
}

func (h *PredictionHandler) ListModels(c echo.Context) error {
	syms := h.registry.Symbols()
	out := make([]models.ModelStatus, 0, len(syms))
	for _, s := range syms {
		p, err := h.registry.Get(s)
		if err != nil {
			continue
		}
		out = append(out, p.Status())
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *PredictionHandler) ModelStatus(c echo.Context) error {
	p, err := h.registry.Get(c.Param("symbol"))
	if err != nil {
		return h.fail(c, "status", err)
	}
	return xhttp.SuccessResponse(c, p.Status())
}

// History lists recorded predictions for a symbol, newest first.
// Query: from, to (RFC3339 or YYYY-MM-DD), limit (1..1000, default 100).
func (h *PredictionHandler) History(c echo.Context) error {
	if h.records == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("prediction records are disabled"))
	}
	sym, err := usecase.ValidSymbol(c.Param("symbol"))
	if err != nil {
		return h.fail(c, "history", err)
	}
	now := time.Now().UTC()
	to := xhttp.ParseTimeDefault(c.QueryParam("to"), now)
	from := xhttp.ParseTimeDefault(c.QueryParam("from"), to.AddDate(0, 0, -30))
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("ERR_INVALID_RANGE", "from must not be after to"))
	}
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 100)
	if limit < 1 || limit > 1000 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("ERR_INVALID_LIMIT", "limit must be in [1,1000], got %d", limit))
	}

	rows, err := h.records.Query(c.Request().Context(), sym, from, to, limit)
	if err != nil {
		return h.fail(c, "history", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *PredictionHandler) SubmitTraining(c echo.Context) error {
	req := &models.TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.jobs.Submit(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "train", err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/train/"+job.ID)
	return xhttp.AcceptedResponse(c, job)
}

func (h *PredictionHandler) TrainingStatus(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "train_status", err)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *PredictionHandler) CancelTraining(c echo.Context) error {
	job, err := h.jobs.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "train_cancel", err)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *PredictionHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.String("path", c.Path()), xlogger.Error(err))
	} else {
		h.logger.Debug(op+" rejected", xlogger.String("path", c.Path()), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// toAppError maps a core error kind to its HTTP form. Messages never carry
// internal detail.
func toAppError(err error) *xhttp.AppError {
	kind := errs.KindOf(err)
	code := "ERR_" + string(kind)
	msg := errs.Message(err)
	var appErr *xhttp.AppError
	switch kind {
	case errs.KindInvalidArgument, errs.KindInsufficientData:
		appErr = xhttp.BadRequestError(code, msg)
	case errs.KindModelNotTrained:
		appErr = xhttp.ConflictError(code, msg)
	case errs.KindDataUnavailable, errs.KindJobNotFound:
		appErr = xhttp.NotFoundError(code, msg)
	default:
		appErr = xhttp.InternalError()
	}
	return appErr.WithError(err)
}
