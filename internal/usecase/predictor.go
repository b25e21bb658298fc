package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	"FinCast/internal/services/lstm"
	"FinCast/internal/services/preprocess"
	applogger "FinCast/pkg/logger"
)

// ModelStore is the durable backing store of trained models.
type ModelStore interface {
	SaveModel(symbol string, m *lstm.Model) error
	LoadModel(symbol string, m *lstm.Model) (bool, error)
	SaveScaler(symbol string, sc *preprocess.MinMaxScaler) error
	LoadScaler(symbol string) (*preprocess.MinMaxScaler, bool, error)
	SaveDataset(symbol string, ts models.TimeSeries) error
	Symbols() ([]string, error)
}

// PredictorConfig carries everything a Predictor needs besides its
// collaborators.
type PredictorConfig struct {
	Model lstm.Config // Model.Window is the sequence length

	TrainPeriod   domrepo.Period
	TrainSplit    float64
	Epochs        int
	BatchSize     int
	Workers       int
	EarlyStopping int     // patience
	LRPatience    int     // patience
	LRFactor      float64 // multiplier on plateau
	MinLR         float64

	PredictPeriod domrepo.Period
	InfoPeriod    domrepo.Period
	Confidence    float64
	MaxDaysAhead  int
}

// DefaultPredictorConfig mirrors the configuration defaults.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		Model:         lstm.DefaultConfig(60),
		TrainPeriod:   domrepo.Period2Y,
		TrainSplit:    0.8,
		Epochs:        100,
		BatchSize:     32,
		EarlyStopping: 15,
		LRPatience:    10,
		LRFactor:      0.5,
		MinLR:         1e-7,
		PredictPeriod: domrepo.Period3Mo,
		InfoPeriod:    domrepo.Period3Mo,
		Confidence:    0.85,
		MaxDaysAhead:  30,
	}
}

// TrainParams overrides the configured training run. Zero values fall back
// to the configuration.
type TrainParams struct {
	Period     domrepo.Period
	TrainSplit float64
	Epochs     int
	BatchSize  int
}

// Predictor owns the scaler and model of one symbol. trainMu serializes
// training and prediction on the same instance. stateMu guards the live
// scaler and model, which a training run swaps in only once it succeeds, so
// Status never waits on a run in progress.
type Predictor struct {
	trainMu sync.Mutex
	stateMu sync.RWMutex

	symbol  string
	cfg     PredictorConfig
	source  domrepo.MarketDataSource
	store   ModelStore
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time

	prep    *preprocess.Preprocessor
	model   *lstm.Model
	trained bool
	loaded  bool
}

// NewPredictor restores the persisted model and scaler for symbol. Any
// restore failure is logged and leaves the predictor untrained.
func NewPredictor(symbol string, cfg PredictorConfig, source domrepo.MarketDataSource, store ModelStore, metrics domrepo.Metrics, l *applogger.Logger) *Predictor {
	p := &Predictor{
		symbol:  symbol,
		cfg:     cfg,
		source:  source,
		store:   store,
		metrics: metrics,
		l:       l.With(applogger.String("symbol", symbol)),
		now:     time.Now,
		prep:    preprocess.New(cfg.Model.Window),
		model:   lstm.New(cfg.Model, lstm.WithLogger(l), lstm.WithWorkers(cfg.Workers)),
	}
	p.restore()
	return p
}

func (p *Predictor) restore() {
	model := lstm.New(p.cfg.Model, lstm.WithLogger(p.l), lstm.WithWorkers(p.cfg.Workers))
	ok, err := p.store.LoadModel(p.symbol, model)
	if err != nil {
		p.l.Warn("saved model unusable, starting untrained", applogger.Error(err))
		return
	}
	if !ok {
		p.l.Debug("no saved model")
		return
	}
	if model.Config().Window != p.cfg.Model.Window {
		p.l.Warn("saved model has a different sequence length, starting untrained",
			applogger.Int("saved", model.Config().Window),
			applogger.Int("configured", p.cfg.Model.Window))
		return
	}
	sc, ok, err := p.store.LoadScaler(p.symbol)
	if err != nil || !ok {
		p.l.Warn("saved scaler missing or unusable, starting untrained", applogger.Error(err))
		return
	}
	p.model = model
	p.prep = preprocess.WithScaler(p.cfg.Model.Window, sc)
	p.trained = true
	p.loaded = true
	p.l.Info("model restored", applogger.String("version", model.Version()))
}

func (p *Predictor) Symbol() string { return p.symbol }

// Train fetches history, fits a fresh scaler and model and persists both.
// The live model is replaced only when every step succeeded.
func (p *Predictor) Train(ctx context.Context, params TrainParams) (*models.TrainingReport, error) {
	p.trainMu.Lock()
	defer p.trainMu.Unlock()

	start := p.now()
	report, err := p.train(ctx, p.withDefaults(params))
	elapsed := p.now().Sub(start)
	if err != nil {
		p.metrics.RecordTraining(p.symbol, "error", elapsed.Seconds(), 0)
		p.metrics.RecordError(string(errs.KindOf(err)))
		p.l.Error("training failed", applogger.Error(err), applogger.Duration("elapsed", elapsed))
		return nil, fmt.Errorf("train %s: %w", p.symbol, err)
	}
	report.Duration = elapsed
	p.metrics.RecordTraining(p.symbol, "ok", elapsed.Seconds(), report.EpochsRun)
	p.l.Info("training finished",
		applogger.String("version", report.ModelVersion),
		applogger.Int("epochs", report.EpochsRun),
		applogger.Bool("stopped_early", report.StoppedEarly),
		applogger.Duration("elapsed", elapsed))
	return report, nil
}

func (p *Predictor) withDefaults(params TrainParams) TrainParams {
	if params.Period == "" {
		params.Period = p.cfg.TrainPeriod
	}
	if params.TrainSplit == 0 {
		params.TrainSplit = p.cfg.TrainSplit
	}
	if params.Epochs == 0 {
		params.Epochs = p.cfg.Epochs
	}
	if params.BatchSize == 0 {
		params.BatchSize = p.cfg.BatchSize
	}
	return params
}

func (p *Predictor) train(ctx context.Context, params TrainParams) (*models.TrainingReport, error) {
	if !params.Period.IsValid() {
		return nil, fmt.Errorf("%w: unknown period %q", errs.ErrInvalidArgument, params.Period)
	}
	if params.TrainSplit <= 0 || params.TrainSplit > 1 {
		return nil, fmt.Errorf("%w: train split must be in (0,1], got %v", errs.ErrInvalidArgument, params.TrainSplit)
	}
	if params.Epochs < 1 {
		return nil, fmt.Errorf("%w: epochs must be positive, got %d", errs.ErrInvalidArgument, params.Epochs)
	}

	window := p.cfg.Model.Window
	ts, err := p.source.Fetch(ctx, p.symbol, params.Period)
	if err != nil {
		return nil, err
	}
	if ts.Len() < 2*window {
		return nil, fmt.Errorf("%w: need %d bars to train, got %d", errs.ErrInsufficientData, 2*window, ts.Len())
	}

	prep := preprocess.New(window)
	scaled, err := prep.FitTransform(ts)
	if err != nil {
		return nil, err
	}
	trainSeqs, valSeqs := preprocess.SplitSequences(prep.CreateSequences(scaled), params.TrainSplit)
	if len(trainSeqs) == 0 {
		return nil, fmt.Errorf("%w: split %.2f leaves no training samples", errs.ErrInsufficientData, params.TrainSplit)
	}
	xTrain, yTrain := preprocess.Unzip(trainSeqs)
	xVal, yVal := preprocess.Unzip(valSeqs)

	model := lstm.New(p.cfg.Model, lstm.WithLogger(p.l), lstm.WithWorkers(p.cfg.Workers), lstm.WithClock(p.now))
	if err := model.Build(p.cfg.Model.Units, p.cfg.Model.Dropout); err != nil {
		return nil, modelFault("build model", err)
	}
	p.l.Info("training started",
		applogger.String("period", string(params.Period)),
		applogger.Int("bars", ts.Len()),
		applogger.Int("train_samples", len(xTrain)),
		applogger.Int("val_samples", len(xVal)),
		applogger.Int("epochs", params.Epochs))

	hist, err := model.Fit(ctx, xTrain, yTrain, xVal, yVal, lstm.FitOptions{
		Epochs:        params.Epochs,
		BatchSize:     params.BatchSize,
		EarlyStopping: lstm.NewEarlyStopping(p.cfg.EarlyStopping),
		ReduceLR:      lstm.NewReduceLROnPlateau(p.cfg.LRFactor, p.cfg.LRPatience, p.cfg.MinLR),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if err = modelFault("fit", err); errs.KindOf(err) == errs.KindInternal {
			err = fmt.Errorf("%w: %v", errs.ErrTrainingFailure, err)
		}
		return nil, err
	}

	var metrics *models.EvalMetrics
	if len(xVal) > 0 {
		m, err := model.Evaluate(xVal, yVal)
		if err != nil && !errors.Is(err, errs.ErrDivisionUndefined) {
			return nil, modelFault("evaluate", err)
		}
		metrics = &m
		if sc := prep.Scaler(); sc.Scale != 0 {
			p.metrics.RecordValidationRMSE(p.symbol, m.RMSE/math.Abs(sc.Scale))
		}
	}

	if err := p.store.SaveModel(p.symbol, model); err != nil {
		return nil, persistence(err)
	}
	if err := p.store.SaveScaler(p.symbol, prep.Scaler()); err != nil {
		return nil, persistence(err)
	}
	if err := p.store.SaveDataset(p.symbol, ts); err != nil {
		p.l.Warn("dataset snapshot not saved", applogger.Error(err))
	}

	p.stateMu.Lock()
	p.prep = prep
	p.model = model
	p.trained = true
	p.loaded = true
	p.stateMu.Unlock()

	return &models.TrainingReport{
		Symbol:            p.symbol,
		Period:            string(params.Period),
		Bars:              ts.Len(),
		TrainingSamples:   len(xTrain),
		ValidationSamples: len(xVal),
		History:           hist.History,
		EpochsRun:         hist.EpochsRun,
		BestEpoch:         hist.BestEpoch + 1,
		StoppedEarly:      hist.StoppedEarly,
		Metrics:           metrics,
		ModelVersion:      model.Version(),
		TrainedAt:         model.TrainedAt(),
	}, nil
}

// modelFault turns an invalid-argument error from the model into an internal
// one. Model config and tensor shapes are server state, never caller input.
func modelFault(op string, err error) error {
	if errs.KindOf(err) != errs.KindInvalidArgument {
		return err
	}
	return fmt.Errorf("%s: %v", op, err)
}

func persistence(err error) error {
	if errors.Is(err, errs.ErrPersistenceFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrPersistenceFailure, err)
}

// PredictPrice forecasts the next close. daysAhead is validated and echoed;
// only the immediate next step is modelled.
func (p *Predictor) PredictPrice(ctx context.Context, daysAhead int) (*models.PredictionResult, error) {
	p.trainMu.Lock()
	defer p.trainMu.Unlock()

	start := p.now()
	res, err := p.predict(ctx, daysAhead)
	p.metrics.RecordLatency("predict", p.now().Sub(start).Seconds())
	if err != nil {
		p.metrics.RecordPrediction(p.symbol, "error")
		p.metrics.RecordError(string(errs.KindOf(err)))
		return nil, fmt.Errorf("predict %s: %w", p.symbol, err)
	}
	p.metrics.RecordPrediction(p.symbol, "ok")
	p.metrics.RecordPredictedPrice(p.symbol, res.PredictedPrice)
	return res, nil
}

func (p *Predictor) predict(ctx context.Context, daysAhead int) (*models.PredictionResult, error) {
	p.stateMu.RLock()
	prep, model, trained := p.prep, p.model, p.trained
	p.stateMu.RUnlock()

	if !trained {
		return nil, errs.ErrModelNotTrained
	}
	maxDays := p.cfg.MaxDaysAhead
	if maxDays < 1 {
		maxDays = 1
	}
	if daysAhead < 1 || daysAhead > maxDays {
		return nil, fmt.Errorf("%w: days_ahead must be in [1,%d], got %d", errs.ErrInvalidArgument, maxDays, daysAhead)
	}

	window := p.cfg.Model.Window
	ts, err := p.source.Fetch(ctx, p.symbol, domrepo.Covering(p.cfg.PredictPeriod, window))
	if err != nil {
		return nil, err
	}
	if ts.Len() < window {
		return nil, fmt.Errorf("%w: need %d bars to predict, got %d", errs.ErrInsufficientData, window, ts.Len())
	}

	x, err := prep.PrepareInferenceWindow(ts)
	if err != nil {
		return nil, err
	}
	out, err := model.Predict(x)
	if err != nil {
		return nil, modelFault("model predict", err)
	}
	prices, err := prep.InverseTransform(out)
	if err != nil {
		return nil, err
	}

	predicted := prices[0]
	current := preprocess.LatestPrice(ts)
	var change float64
	if current != 0 {
		change = (predicted - current) / current * 100
	}
	last, _ := ts.Last()
	return &models.PredictionResult{
		Symbol:         p.symbol,
		CurrentPrice:   preprocess.Round2(current),
		PredictedPrice: preprocess.Round2(predicted),
		PercentChange:  preprocess.Round2(change),
		Confidence:     clamp01(p.cfg.Confidence),
		AsOfDate:       last.Date,
		DaysAhead:      daysAhead,
		ModelVersion:   model.Version(),
	}, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Info summarises recent price action. It needs no trained model and takes
// no lock.
func (p *Predictor) Info(ctx context.Context) (*models.StockInfo, error) {
	ts, err := p.source.Fetch(ctx, p.symbol, p.cfg.InfoPeriod)
	if err != nil {
		p.metrics.RecordError(string(errs.KindOf(err)))
		return nil, fmt.Errorf("info %s: %w", p.symbol, err)
	}
	last, ok := ts.Last()
	if !ok {
		return nil, fmt.Errorf("info %s: %w: empty series", p.symbol, errs.ErrDataUnavailable)
	}
	return &models.StockInfo{
		Symbol:         p.symbol,
		CurrentPrice:   preprocess.Round2(last.Close),
		PriceChange1D:  preprocess.Round2(preprocess.PriceChangePercent(ts, 1)),
		PriceChange7D:  preprocess.Round2(preprocess.PriceChangePercent(ts, 7)),
		PriceChange30D: preprocess.Round2(preprocess.PriceChangePercent(ts, 30)),
		Volatility30D:  preprocess.RealizedVolatility(preprocess.LogReturns(ts.Closes()), 30),
		Volume:         last.Volume,
		AsOfDate:       last.Date,
	}, nil
}

func (p *Predictor) Status() models.ModelStatus {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	st := models.ModelStatus{
		Symbol:         p.symbol,
		IsTrained:      p.trained,
		SequenceLength: p.cfg.Model.Window,
		ModelLoaded:    p.loaded,
		ScalerFitted:   p.prep.Fitted(),
	}
	if p.trained {
		st.ModelVersion = p.model.Version()
		at := p.model.TrainedAt()
		st.TrainedAt = &at
	}
	return st
}
