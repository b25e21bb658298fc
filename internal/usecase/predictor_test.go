package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	"FinCast/internal/repository"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/metrics"
)

func TestPredictWithoutModel(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 40)

	p, err := env.reg.Get("aapl")
	require.NoError(t, err)
	assert.False(t, p.Status().IsTrained)

	for _, d := range []int{0, 1, 31} {
		_, err = p.PredictPrice(context.Background(), d)
		assert.ErrorIs(t, err, errs.ErrModelNotTrained, "days %d", d)
	}
}

func TestTrainThenPredict(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(dir, smallConfig(5))
	env.source.add("AAPL", 40)
	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)

	report, err := p.Train(context.Background(), TrainParams{})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", report.Symbol)
	assert.Equal(t, "2y", report.Period)
	assert.Equal(t, 40, report.Bars)
	assert.Equal(t, 28, report.TrainingSamples)
	assert.Equal(t, 7, report.ValidationSamples)
	assert.Equal(t, 2, report.EpochsRun)
	assert.Len(t, report.History.Loss, 2)
	require.NotNil(t, report.Metrics)
	assert.NotEmpty(t, report.ModelVersion)

	for _, f := range []string{"model.json", "scaler.json", "dataset.parquet"} {
		_, err := os.Stat(filepath.Join(dir, "AAPL", f))
		assert.NoError(t, err, f)
	}

	st := p.Status()
	assert.True(t, st.IsTrained)
	assert.True(t, st.ScalerFitted)
	assert.Equal(t, 5, st.SequenceLength)
	assert.Equal(t, report.ModelVersion, st.ModelVersion)

	res, err := p.PredictPrice(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Equal(t, 3, res.DaysAhead)
	assert.Equal(t, report.ModelVersion, res.ModelVersion)
	assert.InDelta(t, 0.85, res.Confidence, 1e-12)
	assert.Greater(t, res.PredictedPrice, 0.0)
	last, _ := syntheticSeries("AAPL", 40).Last()
	assert.Equal(t, last.Date, res.AsOfDate)
	assert.Equal(t, domrepo.Period3Mo, env.source.lastPeriod())
}

func TestTrainNeedsTwoWindows(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("TINY", 9)
	p, err := env.reg.Get("TINY")
	require.NoError(t, err)

	_, err = p.Train(context.Background(), TrainParams{})
	assert.ErrorIs(t, err, errs.ErrInsufficientData)
	assert.False(t, p.Status().IsTrained)
}

func TestTrainRejectsBadParams(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 40)
	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)

	tests := []struct {
		name   string
		params TrainParams
	}{
		{"period", TrainParams{Period: "7y"}},
		{"split", TrainParams{TrainSplit: 1.5}},
		{"epochs", TrainParams{Epochs: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Train(context.Background(), tt.params)
			assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		})
	}
}

func TestTrainBadModelConfigIsInternal(t *testing.T) {
	cfg := smallConfig(5)
	cfg.Model.Dropout = 1.5
	env := newTestEnv(t.TempDir(), cfg)
	env.source.add("AAPL", 40)
	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)

	_, err = p.Train(context.Background(), TrainParams{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrInvalidArgument)
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))
	assert.Equal(t, "Something went wrong", errs.Message(err))
	assert.False(t, p.Status().IsTrained)
}

func TestTrainSplitAtSixtyBarWindow(t *testing.T) {
	cfg := smallConfig(60)
	cfg.Model.Units = 2
	cfg.Epochs = 1
	env := newTestEnv(t.TempDir(), cfg)
	env.source.add("MSFT", 130)
	p, err := env.reg.Get("MSFT")
	require.NoError(t, err)

	report, err := p.Train(context.Background(), TrainParams{TrainSplit: 0.8})
	require.NoError(t, err)
	assert.Equal(t, 56, report.TrainingSamples)
	assert.Equal(t, 14, report.ValidationSamples)
}

func TestTrainWithoutValidationSplit(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 20)
	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)

	report, err := p.Train(context.Background(), TrainParams{TrainSplit: 1})
	require.NoError(t, err)
	assert.Equal(t, 15, report.TrainingSamples)
	assert.Zero(t, report.ValidationSamples)
	assert.Nil(t, report.Metrics)
	assert.Empty(t, report.History.ValLoss)
}

func TestPredictorRestoresSavedModel(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(dir, smallConfig(5))
	env.source.add("AAPL", 40)
	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)
	_, err = p.Train(context.Background(), TrainParams{})
	require.NoError(t, err)
	want, err := p.PredictPrice(context.Background(), 1)
	require.NoError(t, err)

	again := NewPredictor("AAPL", env.cfg, env.source, env.store, metrics.Nop{}, applogger.Nop())
	st := again.Status()
	assert.True(t, st.IsTrained)
	assert.True(t, st.ModelLoaded)
	got, err := again.PredictPrice(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, want.PredictedPrice, got.PredictedPrice)
	assert.Equal(t, want.ModelVersion, got.ModelVersion)
}

func TestPredictorIgnoresCorruptModel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "AAPL"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL", "model.json"), []byte("{"), 0o644))

	env := newTestEnv(dir, smallConfig(5))
	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)
	assert.False(t, p.Status().IsTrained)
}

func TestConfidenceStaysInUnitInterval(t *testing.T) {
	for _, c := range []float64{-0.3, 0, 0.85, 1, 1.7} {
		cfg := smallConfig(5)
		cfg.Confidence = c
		env := newTestEnv(t.TempDir(), cfg)
		env.source.add("AAPL", 30)
		p, err := env.reg.Get("AAPL")
		require.NoError(t, err)
		_, err = p.Train(context.Background(), TrainParams{Epochs: 1})
		require.NoError(t, err)

		res, err := p.PredictPrice(context.Background(), 1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Confidence, 0.0)
		assert.LessOrEqual(t, res.Confidence, 1.0)
	}
}

func TestPredictRejectsDaysAhead(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 40)
	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)
	_, err = p.Train(context.Background(), TrainParams{})
	require.NoError(t, err)

	for _, d := range []int{0, -2, 31} {
		_, err := p.PredictPrice(context.Background(), d)
		assert.ErrorIs(t, err, errs.ErrInvalidArgument, "days %d", d)
	}
}

func TestInfoWithoutModel(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 40)
	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)

	info, err := p.Info(context.Background())
	require.NoError(t, err)
	ts := syntheticSeries("AAPL", 40)
	last, _ := ts.Last()
	assert.Equal(t, "AAPL", info.Symbol)
	assert.InDelta(t, last.Close, info.CurrentPrice, 0.005)
	assert.Equal(t, last.Volume, info.Volume)
	assert.Equal(t, last.Date, info.AsOfDate)

	prev := ts.Bars[len(ts.Bars)-2].Close
	assert.InDelta(t, (last.Close-prev)/prev*100, info.PriceChange1D, 0.005)
	assert.NotZero(t, info.PriceChange30D)
	assert.Equal(t, domrepo.Period3Mo, env.source.lastPeriod())
}

func TestInfoShortHistory(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("NEW", 5)
	p, err := env.reg.Get("NEW")
	require.NoError(t, err)

	info, err := p.Info(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, info.PriceChange1D)
	assert.Zero(t, info.PriceChange7D)
	assert.Zero(t, info.PriceChange30D)
}

func TestInfoUnknownSymbol(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	p, err := env.reg.Get("NOPE")
	require.NoError(t, err)
	_, err = p.Info(context.Background())
	assert.ErrorIs(t, err, errs.ErrDataUnavailable)
}

func TestStatusUntrained(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(7))
	p, err := env.reg.Get("IBM")
	require.NoError(t, err)
	assert.Equal(t, models.ModelStatus{Symbol: "IBM", SequenceLength: 7}, p.Status())
}

func TestStatusAndInfoDuringTraining(t *testing.T) {
	src := &gatedSource{fakeSource: newFakeSource(), gated: domrepo.Period2Y, started: make(chan struct{}), release: make(chan struct{})}
	src.add("AAPL", 40)
	p := NewPredictor("AAPL", smallConfig(5), src, repository.NewFileModelStore(t.TempDir()), metrics.Nop{}, applogger.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := p.Train(context.Background(), TrainParams{})
		done <- err
	}()
	<-src.started

	status := make(chan models.ModelStatus, 1)
	go func() { status <- p.Status() }()
	select {
	case st := <-status:
		assert.False(t, st.IsTrained)
	case <-time.After(2 * time.Second):
		t.Fatal("Status waited on the training run")
	}

	info, err := p.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AAPL", info.Symbol)

	close(src.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("training did not finish")
	}
	assert.True(t, p.Status().IsTrained)
}
