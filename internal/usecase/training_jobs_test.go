package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	"FinCast/internal/repository"
	pkgcache "FinCast/pkg/cache"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/metrics"
	"FinCast/pkg/queue"
)

// captureQueue holds enqueued payloads so tests can run them by hand.
type captureQueue struct {
	mu   sync.Mutex
	msgs []json.RawMessage
}

func (q *captureQueue) RegisterJob(queue.Job) {}
func (q *captureQueue) Start() error { return nil }
func (q *captureQueue) Stop(context.Context) error { return nil }
func (q *captureQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	if msgType != TrainJobType {
		return queue.ErrNoJob
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, raw)
	return nil
}

func (q *captureQueue) last() json.RawMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.msgs[len(q.msgs)-1]
}

func newJobs(t *testing.T, reg *Registry, q queue.Queue) (*TrainingJobs, *pkgcache.MemoryCache) {
	t.Helper()
	state := pkgcache.NewMemoryCache()
	t.Cleanup(func() { _ = state.Close() })
	return NewTrainingJobs(reg, state, q, time.Hour, applogger.Nop()), state
}

func trainRequest(symbol string) models.TrainRequest {
	return models.TrainRequest{Symbol: symbol, Period: "1y", Epochs: 2, TrainSplit: 0.8}
}

func TestTrainingJobLifecycle(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 40)
	q := &captureQueue{}
	jobs, _ := newJobs(t, env.reg, q)
	ctx := context.Background()

	job, err := jobs.Submit(ctx, trainRequest("aapl"))
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, "AAPL", job.Symbol)
	assert.NotEmpty(t, job.ID)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)

	require.NoError(t, jobs.Handle(ctx, q.last()))

	got, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, "1y", got.Report.Period)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.Error)

	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)
	assert.True(t, p.Status().IsTrained)
}

func TestTrainingJobSubmitValidates(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	jobs, _ := newJobs(t, env.reg, &captureQueue{})

	bad := []models.TrainRequest{
		{Symbol: "", Period: "1y", Epochs: 1, TrainSplit: 0.8},
		{Symbol: "AAPL", Period: "7y", Epochs: 1, TrainSplit: 0.8},
		{Symbol: "AAPL", Period: "1y", Epochs: 0, TrainSplit: 0.8},
		{Symbol: "AAPL", Period: "1y", Epochs: 1, TrainSplit: 0},
	}
	for _, req := range bad {
		_, err := jobs.Submit(context.Background(), req)
		assert.ErrorIs(t, err, errs.ErrInvalidArgument, "%+v", req)
	}
}

func TestTrainingJobUnknownID(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	jobs, _ := newJobs(t, env.reg, &captureQueue{})

	_, err := jobs.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrJobNotFound)
	_, err = jobs.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrJobNotFound)
}

func TestCancelPendingJobSkipsTraining(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 40)
	q := &captureQueue{}
	jobs, _ := newJobs(t, env.reg, q)
	ctx := context.Background()

	job, err := jobs.Submit(ctx, trainRequest("AAPL"))
	require.NoError(t, err)
	canceled, err := jobs.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, canceled.Status)

	require.NoError(t, jobs.Handle(ctx, q.last()))
	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, got.Status)
	assert.Nil(t, got.StartedAt)

	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)
	assert.False(t, p.Status().IsTrained)
}

func TestCancelWhileWorkerStarts(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 40)
	q := &captureQueue{}
	jobs, state := newJobs(t, env.reg, q)
	ctx := context.Background()

	job, err := jobs.Submit(ctx, trainRequest("AAPL"))
	require.NoError(t, err)
	_, err = jobs.Cancel(ctx, job.ID)
	require.NoError(t, err)

	// The worker read the job as pending before the cancel was written.
	require.NoError(t, state.Set(ctx, jobKey(job.ID), job, time.Hour))
	require.NoError(t, jobs.Handle(ctx, q.last()))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.Report)

	p, err := env.reg.Get("AAPL")
	require.NoError(t, err)
	assert.False(t, p.Status().IsTrained)

	ok, err := state.Exists(ctx, cancelKey(job.ID))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelRunningJob(t *testing.T) {
	src := &blockingSource{started: make(chan struct{})}
	store := repository.NewFileModelStore(t.TempDir())
	reg := NewRegistry(smallConfig(5), src, store, metrics.Nop{}, applogger.Nop())
	q := &captureQueue{}
	jobs, _ := newJobs(t, reg, q)
	ctx := context.Background()

	job, err := jobs.Submit(ctx, trainRequest("AAPL"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- jobs.Handle(ctx, q.last()) }()
	<-src.started

	running, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, running.Status)

	_, err = jobs.Cancel(ctx, job.ID)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("running job did not stop")
	}
	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, got.Status)
	assert.Equal(t, string(errs.KindCanceled), got.ErrorCode)
}

func TestFailedJobRecordsKind(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("TINY", 6)
	q := &captureQueue{}
	jobs, _ := newJobs(t, env.reg, q)
	ctx := context.Background()

	job, err := jobs.Submit(ctx, trainRequest("TINY"))
	require.NoError(t, err)
	assert.ErrorIs(t, jobs.Handle(ctx, q.last()), errs.ErrInsufficientData)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, string(errs.KindInsufficientData), got.ErrorCode)
	assert.Equal(t, "not enough price history for symbol", got.Error)
}

func TestJobFailsWhileSymbolLocked(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 40)
	q := &captureQueue{}
	jobs, state := newJobs(t, env.reg, q)
	ctx := context.Background()

	ok, err := state.TryLock(ctx, trainLockKey("AAPL"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	job, err := jobs.Submit(ctx, trainRequest("AAPL"))
	require.NoError(t, err)
	assert.Error(t, jobs.Handle(ctx, q.last()))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
}

func TestTrainingJobsOnMemoryQueue(t *testing.T) {
	env := newTestEnv(t.TempDir(), smallConfig(5))
	env.source.add("AAPL", 40)
	q := queue.NewMemoryQueue(applogger.Nop(), &queue.Config{Workers: 1, QueueSize: 4})
	jobs, _ := newJobs(t, env.reg, q)
	q.RegisterJob(jobs)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	job, err := jobs.Submit(context.Background(), trainRequest("AAPL"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := jobs.Get(context.Background(), job.ID)
		return err == nil && got.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, got.Status)
}
