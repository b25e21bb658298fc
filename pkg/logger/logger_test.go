package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesTypedFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel)

	l.With(String("symbol", "AAPL")).Info("predicted",
		Float64("price", 187.25),
		Int("window", 60),
		Duration("took", 1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "AAPL", got["symbol"])
	assert.Equal(t, 187.25, got["price"])
	assert.Equal(t, float64(60), got["window"])
	assert.Equal(t, float64(1500), got["took_ms"])
	assert.Equal(t, "boom", got["error"])
	assert.Equal(t, "predicted", got["message"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("x")
		l.Error("y", Error(errors.New("z")))
		_ = l.With(String("a", "b"))
	})
}

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]DigestEntry
}

func (c *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, payload.([]DigestEntry))
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestDigestCollapsesRepeatedErrors(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDigest(&DigestConfig{FlushInterval: time.Hour, MaxEntries: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		d.Add("error", "fetch failed", map[string]interface{}{"attempt": i}, "a.go:1")
	}
	d.Add("error", "save failed", nil, "b.go:2")
	d.Close()

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 10*time.Millisecond)
	batch := pub.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "fetch failed", batch[0].Message)
	assert.Equal(t, 3, batch[0].Count)
	assert.Equal(t, 1, batch[1].Count)
}
