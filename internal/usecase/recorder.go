package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	applogger "FinCast/pkg/logger"
)

const (
	RecordBackendDirect = "direct"
	RecordBackendKafka  = "kafka"
)

// PredictionRecorder hands served predictions to the configured backend.
// Failures are logged and counted and never reach the caller. A nil
// recorder discards everything.
type PredictionRecorder struct {
	backend string
	store   domrepo.RecordStore
	pub     domrepo.RecordPublisher
	metrics domrepo.Metrics
	l       *applogger.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewPredictionRecorder routes to store for the direct backend and to pub
// for kafka. The unused collaborator may be nil.
func NewPredictionRecorder(backend string, store domrepo.RecordStore, pub domrepo.RecordPublisher, metrics domrepo.Metrics, l *applogger.Logger) *PredictionRecorder {
	return &PredictionRecorder{
		backend: backend,
		store:   store,
		pub:     pub,
		metrics: metrics,
		l:       l,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

func (r *PredictionRecorder) Record(ctx context.Context, res models.PredictionResult) {
	if r == nil {
		return
	}
	rec := models.NewPredictionRecord(res, r.now())
	r.ship(ctx, []*models.PredictionRecord{&rec})
}

func (r *PredictionRecorder) RecordBatch(ctx context.Context, results []models.PredictionResult) {
	if r == nil || len(results) == 0 {
		return
	}
	now := r.now()
	recs := make([]*models.PredictionRecord, len(results))
	for i, res := range results {
		rec := models.NewPredictionRecord(res, now)
		recs[i] = &rec
	}
	r.ship(ctx, recs)
}

func (r *PredictionRecorder) ship(ctx context.Context, recs []*models.PredictionRecord) {
	// Records outlive the request that produced them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch r.backend {
	case RecordBackendKafka:
		if len(recs) == 1 {
			err = r.pub.Publish(ctx, recs[0])
		} else {
			err = r.pub.PublishBatch(ctx, recs)
		}
	case RecordBackendDirect:
		if len(recs) == 1 {
			err = r.store.Store(ctx, recs[0])
		} else {
			err = r.store.StoreBatch(ctx, recs)
		}
	default:
		err = fmt.Errorf("unknown records backend: %s", r.backend)
	}
	r.metrics.RecordLatency("record_"+r.backend, time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordRecord(r.backend, "error")
		r.metrics.RecordError("record")
		r.l.Error("prediction record not shipped",
			applogger.String("backend", r.backend),
			applogger.Int("records", len(recs)),
			applogger.Error(err))
		return
	}
	for range recs {
		r.metrics.RecordRecord(r.backend, "ok")
	}
}

// RecordSink consumes prediction records from Kafka into the record store.
type RecordSink struct {
	topic   string
	store   domrepo.RecordStore
	metrics domrepo.Metrics
}

func NewRecordSink(topic string, store domrepo.RecordStore, metrics domrepo.Metrics) *RecordSink {
	return &RecordSink{topic: topic, store: store, metrics: metrics}
}

func (h *RecordSink) Topic() string { return h.topic }

func (h *RecordSink) Handle(ctx context.Context, b []byte) error {
	var rec models.PredictionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode prediction record: %w", err)
	}
	if rec.Symbol == "" {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("prediction record without symbol")
	}
	start := time.Now()
	err := h.store.Store(ctx, &rec)
	h.metrics.RecordLatency("record_sink_store", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordRecord("sink", "ok")
	return nil
}
