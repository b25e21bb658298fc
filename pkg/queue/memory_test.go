package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/pkg/logger"
)

type echoPayload struct {
	Symbol string `json:"symbol"`
}

type recordingJob struct {
	mu       sync.Mutex
	seen     []string
	failures int32
	calls    atomic.Int32
	block    chan struct{}
}

func (j *recordingJob) Name() string { return "recording" }
func (j *recordingJob) Type() string { return "echo" }

func (j *recordingJob) Handle(ctx context.Context, raw json.RawMessage) error {
	n := j.calls.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= j.failures {
		return errors.New("transient")
	}
	p, err := Decode[echoPayload](raw)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.seen = append(j.seen, p.Symbol)
	j.mu.Unlock()
	return nil
}

func (j *recordingJob) symbols() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.seen...)
}

func startQueue(t *testing.T, cfg *Config, job Job) *MemoryQueue {
	t.Helper()
	q := NewMemoryQueue(logger.Nop(), cfg)
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	return q
}

func TestMemoryQueue_RunsJobs(t *testing.T) {
	job := &recordingJob{}
	q := startQueue(t, &Config{Workers: 1}, job)

	require.NoError(t, q.Enqueue(context.Background(), "echo", echoPayload{Symbol: "AAPL"}))
	require.NoError(t, q.Enqueue(context.Background(), "echo", echoPayload{Symbol: "MSFT"}))

	require.Eventually(t, func() bool { return len(job.symbols()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"AAPL", "MSFT"}, job.symbols())
}

func TestMemoryQueue_RejectsUnknownType(t *testing.T) {
	q := startQueue(t, nil, &recordingJob{})
	err := q.Enqueue(context.Background(), "other", nil)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestMemoryQueue_NotRunning(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), nil)
	q.RegisterJob(&recordingJob{})
	assert.ErrorIs(t, q.Enqueue(context.Background(), "echo", nil), ErrNotRunning)
}

func TestMemoryQueue_RetriesThenSucceeds(t *testing.T) {
	job := &recordingJob{failures: 2}
	q := startQueue(t, &Config{RetryLimit: 2, RetryDelay: time.Millisecond}, job)

	require.NoError(t, q.Enqueue(context.Background(), "echo", echoPayload{Symbol: "AAPL"}))
	require.Eventually(t, func() bool { return len(job.symbols()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), job.calls.Load())
	assert.Empty(t, q.DeadLetters())
}

func TestMemoryQueue_NoRetryGoesToDeadLetters(t *testing.T) {
	job := &recordingJob{failures: 5}
	q := startQueue(t, &Config{RetryLimit: 0}, job)

	require.NoError(t, q.Enqueue(context.Background(), "echo", echoPayload{Symbol: "AAPL"}))
	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), job.calls.Load())
	assert.Equal(t, "echo", q.DeadLetters()[0].Type)
}

func TestMemoryQueue_StopCancelsRunningJob(t *testing.T) {
	job := &recordingJob{block: make(chan struct{})}
	q := NewMemoryQueue(logger.Nop(), nil)
	q.RegisterJob(job)
	require.NoError(t, q.Start())

	require.NoError(t, q.Enqueue(context.Background(), "echo", echoPayload{Symbol: "AAPL"}))
	require.Eventually(t, func() bool { return job.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
	assert.Empty(t, job.symbols())
	assert.Empty(t, q.DeadLetters())
}

func TestDecode(t *testing.T) {
	p, err := Decode[echoPayload](json.RawMessage(`{"symbol":"TSLA"}`))
	require.NoError(t, err)
	assert.Equal(t, "TSLA", p.Symbol)

	_, err = Decode[echoPayload](json.RawMessage(`[`))
	assert.Error(t, err)
}
