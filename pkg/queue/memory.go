package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinCast/pkg/logger"
)

// MemoryQueue runs jobs on in-process workers. Messages are lost on
// restart. Enqueue blocks while the buffer is full.
type MemoryQueue struct {
	logger *logger.Logger
	config *Config
	jobs   map[string]Job
	ch     chan Message
	wg     sync.WaitGroup
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	running bool
	dead    []Message
}

func NewMemoryQueue(lgr *logger.Logger, config *Config) *MemoryQueue {
	cfg := config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		logger: lgr,
		config: cfg,
		jobs:   make(map[string]Job),
		ch:     make(chan Message, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
	q.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already running")
	}
	if q.ctx.Err() != nil {
		return fmt.Errorf("queue stopped")
	}
	q.running = true
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers), logger.Int("buffer", q.config.QueueSize))
	return nil
}

// Stop cancels running jobs and waits for workers to exit. Buffered
// messages are dropped.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		q.logger.Info("memory queue stopped", logger.Int("dropped", len(q.ch)))
		return nil
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	running := q.running
	_, exists := q.jobs[msgType]
	q.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoJob, msgType)
	}

	msg, err := newMessage(msgType, payload)
	if err != nil {
		return err
	}
	return q.push(ctx, msg)
}

func (q *MemoryQueue) push(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrNotRunning
	}
}

// DeadLetters returns messages whose retries ran out.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Message(nil), q.dead...)
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.ch:
			q.process(msg)
		}
	}
}

func (q *MemoryQueue) process(msg Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}

	switch execute(q.ctx, q.logger, job, msg, q.config.RetryLimit) {
	case retry:
		msg.Attempts++
		time.AfterFunc(q.config.RetryDelay, func() {
			if err := q.push(q.ctx, msg); err != nil {
				q.logger.Warn("retry dropped", logger.String("id", msg.ID), logger.Error(err))
			}
		})
	case dead:
		q.mu.Lock()
		q.dead = append(q.dead, msg)
		q.mu.Unlock()
	}
}
