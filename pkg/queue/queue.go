// Package queue runs typed background jobs on an in-process or Redis-backed
// work queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"FinCast/pkg/logger"
)

var (
	ErrNotRunning = errors.New("queue not running")
	ErrNoJob      = errors.New("no job registered for type")
)

// Job handles one message type. Payloads arrive JSON encoded.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Queue is implemented by MemoryQueue and RedisQueue.
type Queue interface {
	RegisterJob(job Job)
	Start() error
	Stop(ctx context.Context) error
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

type Config struct {
	Workers    int           // number of workers
	QueueSize  int           // buffered messages, memory queue only
	RetryLimit int           // retries after the first attempt
	RetryDelay time.Duration // delay before a retry is re-queued
}

func (c *Config) withDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 64
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	return &out
}

type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

func newMessage(msgType string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Message{ID: uuid.NewString(), Type: msgType, Payload: raw, Timestamp: time.Now().UTC()}, nil
}

// Decode unmarshals a job payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// outcome of one handling attempt.
type outcome int

const (
	done outcome = iota
	retry
	dead
)

// execute runs job for msg and decides what happens next. Cancellation is
// never retried.
func execute(ctx context.Context, lgr *logger.Logger, job Job, msg Message, retryLimit int) outcome {
	start := time.Now()
	err := handleSafely(ctx, job, msg.Payload)
	if err == nil {
		lgr.Debug("job done",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", time.Since(start)))
		return done
	}
	if errors.Is(err, context.Canceled) {
		lgr.Warn("job cancelled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", time.Since(start)))
		return done
	}
	lgr.Error("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))
	if msg.Attempts < retryLimit {
		return retry
	}
	return dead
}

func handleSafely(ctx context.Context, job Job, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Handle(ctx, payload)
}
