package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	predictions     *prometheus.CounterVec
	predictedPrice  *prometheus.GaugeVec
	trainingRuns    *prometheus.CounterVec
	trainingSeconds *prometheus.HistogramVec
	trainingEpochs  *prometheus.GaugeVec
	validationRMSE  *prometheus.GaugeVec
	records         *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers on reg; tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_predictions_total",
				Help: "Predictions served, by symbol and result",
			},
			[]string{"symbol", "result"},
		),
		predictedPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fincast_predicted_price",
				Help: "Last predicted next-day close for a symbol",
			},
			[]string{"symbol"},
		),
		trainingRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_training_runs_total",
				Help: "Training runs, by symbol and result",
			},
			[]string{"symbol", "result"},
		),
		trainingSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fincast_training_duration_seconds",
				Help:    "Wall time of a training run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"symbol"},
		),
		trainingEpochs: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fincast_training_epochs",
				Help: "Epochs run by the last training of a symbol",
			},
			[]string{"symbol"},
		),
		validationRMSE: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fincast_validation_rmse",
				Help: "Validation RMSE of the last training of a symbol, in price units",
			},
			[]string{"symbol"},
		),
		records: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_prediction_records_total",
				Help: "Prediction records handed to a backend",
			},
			[]string{"backend", "result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fincast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordPrediction(symbol, result string) {
	r.predictions.WithLabelValues(symbol, result).Inc()
}

func (r *Recorder) RecordPredictedPrice(symbol string, price float64) {
	r.predictedPrice.WithLabelValues(symbol).Set(price)
}

// RecordTraining counts a run; duration and epochs are kept only for
// successful runs.
func (r *Recorder) RecordTraining(symbol, result string, seconds float64, epochs int) {
	r.trainingRuns.WithLabelValues(symbol, result).Inc()
	if result != "ok" {
		return
	}
	r.trainingSeconds.WithLabelValues(symbol).Observe(seconds)
	r.trainingEpochs.WithLabelValues(symbol).Set(float64(epochs))
}

func (r *Recorder) RecordValidationRMSE(symbol string, rmse float64) {
	r.validationRMSE.WithLabelValues(symbol).Set(rmse)
}

func (r *Recorder) RecordRecord(backend, result string) {
	r.records.WithLabelValues(backend, result).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything; it stands in where metrics are disabled.
type Nop struct{}

func (Nop) RecordPrediction(string, string) {}
func (Nop) RecordPredictedPrice(string, float64) {}
func (Nop) RecordTraining(string, string, float64, int) {}
func (Nop) RecordValidationRMSE(string, float64) {}
func (Nop) RecordRecord(string, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
