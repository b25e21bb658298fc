package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	pkgcache "FinCast/pkg/cache"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/queue"
)

// TrainJobType is the queue message type of a training run.
const TrainJobType = "train_model"

type trainPayload struct {
	ID string `json:"id"`
}

// TrainingJobs runs training as submit/poll/cancel jobs. Job state lives in
// the cache so any instance sharing it can answer a poll; the work itself
// runs on queue workers.
type TrainingJobs struct {
	registry *Registry
	state    pkgcache.Service
	queue    queue.Queue
	ttl      time.Duration
	l        *applogger.Logger
	now      func() time.Time

	// cancelPoll is how often a running job checks for a cancel request
	// made on another instance.
	cancelPoll time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewTrainingJobs(registry *Registry, state pkgcache.Service, q queue.Queue, ttl time.Duration, l *applogger.Logger) *TrainingJobs {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TrainingJobs{
		registry:   registry,
		state:      state,
		queue:      q,
		ttl:        ttl,
		l:          l,
		now:        time.Now,
		cancelPoll: 2 * time.Second,
		running:    make(map[string]context.CancelFunc),
	}
}

func jobKey(id string) string        { return pkgcache.Key("jobs", id) }
func cancelKey(id string) string     { return pkgcache.Key("jobs", id, "cancel") }
func trainLockKey(sym string) string { return pkgcache.Key("train-lock", sym) }

// Submit records a pending job and queues it.
func (j *TrainingJobs) Submit(ctx context.Context, req models.TrainRequest) (*models.TrainingJob, error) {
	sym, err := ValidSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	period, err := domrepo.ParsePeriod(req.Period)
	if err != nil {
		return nil, err
	}
	if req.Epochs < 1 {
		return nil, fmt.Errorf("%w: epochs must be positive, got %d", errs.ErrInvalidArgument, req.Epochs)
	}
	if req.TrainSplit <= 0 || req.TrainSplit > 1 {
		return nil, fmt.Errorf("%w: train_split must be in (0,1], got %v", errs.ErrInvalidArgument, req.TrainSplit)
	}

	job := &models.TrainingJob{
		ID:         uuid.NewString(),
		Symbol:     sym,
		Period:     string(period),
		Epochs:     req.Epochs,
		TrainSplit: req.TrainSplit,
		Status:     models.JobPending,
		CreatedAt:  j.now().UTC(),
	}
	if err := j.save(ctx, job); err != nil {
		return nil, err
	}
	if err := j.queue.Enqueue(ctx, TrainJobType, trainPayload{ID: job.ID}); err != nil {
		_ = j.state.Delete(ctx, jobKey(job.ID))
		return nil, fmt.Errorf("enqueue training job: %w", err)
	}
	j.l.Info("training job submitted",
		applogger.String("job_id", job.ID),
		applogger.String("symbol", sym),
		applogger.String("period", job.Period),
		applogger.Int("epochs", job.Epochs))
	return job, nil
}

func (j *TrainingJobs) Get(ctx context.Context, id string) (*models.TrainingJob, error) {
	var job models.TrainingJob
	if err := j.state.Get(ctx, jobKey(id), &job); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %s", errs.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return &job, nil
}

// Cancel stops a pending or running job. Finished jobs are returned as is.
func (j *TrainingJobs) Cancel(ctx context.Context, id string) (*models.TrainingJob, error) {
	job, err := j.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case models.JobPending:
		// A worker may have read the job as pending already; the marker
		// stops it right after it records the run.
		if err := j.state.Set(ctx, cancelKey(id), true, j.ttl); err != nil {
			return nil, fmt.Errorf("request cancel of job %s: %w", id, err)
		}
		j.cancelLocal(id)
		j.settle(ctx, job, models.JobCanceled, nil, context.Canceled)
	case models.JobRunning:
		if err := j.state.Set(ctx, cancelKey(id), true, j.ttl); err != nil {
			return nil, fmt.Errorf("request cancel of job %s: %w", id, err)
		}
		local := j.cancelLocal(id)
		j.l.Info("training job cancel requested", applogger.String("job_id", id), applogger.Bool("local", local))
	}
	return job, nil
}

// cancelLocal cancels the run of id if this instance is executing it.
func (j *TrainingJobs) cancelLocal(id string) bool {
	j.mu.Lock()
	cancel, local := j.running[id]
	j.mu.Unlock()
	if local {
		cancel()
	}
	return local
}

func (j *TrainingJobs) Name() string { return "training" }
func (j *TrainingJobs) Type() string { return TrainJobType }

// Handle runs one queued training job.
func (j *TrainingJobs) Handle(ctx context.Context, raw json.RawMessage) error {
	p, err := queue.Decode[trainPayload](raw)
	if err != nil {
		return err
	}
	job, err := j.Get(ctx, p.ID)
	if err != nil {
		if errors.Is(err, errs.ErrJobNotFound) {
			j.l.Warn("training job expired before it ran", applogger.String("job_id", p.ID))
			return nil
		}
		return err
	}
	if job.Status != models.JobPending {
		j.l.Info("skipping training job", applogger.String("job_id", job.ID), applogger.String("status", string(job.Status)))
		return nil
	}

	pred, err := j.registry.Get(job.Symbol)
	if err != nil {
		j.finish(ctx, job, models.JobFailed, nil, err)
		return err
	}

	lockKey := trainLockKey(job.Symbol)
	ok, err := j.state.TryLock(ctx, lockKey, j.ttl)
	if err != nil {
		j.finish(ctx, job, models.JobFailed, nil, err)
		return fmt.Errorf("lock %s: %w", lockKey, err)
	}
	if !ok {
		err := fmt.Errorf("%w: training already in progress for %s", errs.ErrInvalidArgument, job.Symbol)
		j.finish(ctx, job, models.JobFailed, nil, err)
		return err
	}
	defer func() {
		if err := j.state.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
			j.l.Warn("release training lock", applogger.String("symbol", job.Symbol), applogger.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.mu.Lock()
	j.running[job.ID] = cancel
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		delete(j.running, job.ID)
		j.mu.Unlock()
	}()

	started := j.now().UTC()
	job.Status = models.JobRunning
	job.StartedAt = &started
	if err := j.save(ctx, job); err != nil {
		return err
	}
	if canceled, err := j.state.Exists(ctx, cancelKey(job.ID)); err == nil && canceled {
		j.finish(ctx, job, models.JobCanceled, nil, context.Canceled)
		return nil
	}
	go j.watchCancel(runCtx, job.ID, cancel)

	report, err := pred.Train(runCtx, TrainParams{
		Period:     domrepo.Period(job.Period),
		TrainSplit: job.TrainSplit,
		Epochs:     job.Epochs,
	})
	switch {
	case err == nil:
		j.finish(ctx, job, models.JobSucceeded, report, nil)
		return nil
	case errors.Is(err, context.Canceled):
		j.finish(ctx, job, models.JobCanceled, nil, err)
		return nil
	default:
		j.finish(ctx, job, models.JobFailed, nil, err)
		return err
	}
}

// watchCancel cancels a running job once a cancel request shows up in the
// shared state.
func (j *TrainingJobs) watchCancel(ctx context.Context, id string, cancel context.CancelFunc) {
	t := time.NewTicker(j.cancelPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ok, err := j.state.Exists(ctx, cancelKey(id)); err == nil && ok {
				cancel()
				return
			}
		}
	}
}

// finish records the outcome of a run and clears its cancel marker.
func (j *TrainingJobs) finish(ctx context.Context, job *models.TrainingJob, status models.JobStatus, report *models.TrainingReport, cause error) {
	j.settle(ctx, job, status, report, cause)
	_ = j.state.Delete(context.WithoutCancel(ctx), cancelKey(job.ID))
}

// settle records a terminal status. The cancel marker is left in place.
func (j *TrainingJobs) settle(ctx context.Context, job *models.TrainingJob, status models.JobStatus, report *models.TrainingReport, cause error) {
	done := j.now().UTC()
	job.Status = status
	job.FinishedAt = &done
	job.Report = report
	if cause != nil && status != models.JobSucceeded {
		job.ErrorCode = string(errs.KindOf(cause))
		job.Error = errs.Message(cause)
	}
	ctx = context.WithoutCancel(ctx)
	if err := j.save(ctx, job); err != nil {
		j.l.Error("training job state not saved", applogger.String("job_id", job.ID), applogger.Error(err))
	}
	j.l.Info("training job finished",
		applogger.String("job_id", job.ID),
		applogger.String("symbol", job.Symbol),
		applogger.String("status", string(status)))
}

func (j *TrainingJobs) save(ctx context.Context, job *models.TrainingJob) error {
	if err := j.state.Set(ctx, jobKey(job.ID), job, j.ttl); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
