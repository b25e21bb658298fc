package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordPrediction("AAPL", "ok")
	r.RecordPrediction("AAPL", "ok")
	r.RecordPrediction("AAPL", "MODEL_NOT_TRAINED")
	r.RecordPredictedPrice("AAPL", 187.5)
	r.RecordTraining("AAPL", "ok", 42, 17)
	r.RecordTraining("MSFT", "TRAINING_FAILURE", 3, 0)
	r.RecordValidationRMSE("AAPL", 2.5)
	r.RecordRecord("sqlite", "ok")
	r.RecordError("DATA_UNAVAILABLE")
	r.RecordLatency("predict", 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.predictions.WithLabelValues("AAPL", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.predictions.WithLabelValues("AAPL", "MODEL_NOT_TRAINED")))
	assert.Equal(t, 187.5, testutil.ToFloat64(r.predictedPrice.WithLabelValues("AAPL")))
	assert.Equal(t, 17.0, testutil.ToFloat64(r.trainingEpochs.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trainingRuns.WithLabelValues("MSFT", "TRAINING_FAILURE")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.trainingEpochs))
	assert.Equal(t, 2.5, testutil.ToFloat64(r.validationRMSE.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("DATA_UNAVAILABLE")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.latency))
}
