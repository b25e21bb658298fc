package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/models"
	pkgkafka "FinCast/pkg/kafka"
)

type fakeProducer struct {
	topic  string
	keys   []string
	values []interface{}
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.topic = topic
	f.keys = append(f.keys, string(key))
	f.values = append(f.values, value)
	return nil
}

func (f *fakeProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	f.topic = topic
	for _, m := range msgs {
		f.keys = append(f.keys, string(m.Key))
		f.values = append(f.values, m.Value)
	}
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaRecordPublisher_KeysBySymbol(t *testing.T) {
	fp := &fakeProducer{}
	pub := NewKafkaRecordPublisher(fp, "fincast.predictions")
	ctx := context.Background()

	a := &models.PredictionRecord{Symbol: "AAPL"}
	b := &models.PredictionRecord{Symbol: "MSFT"}
	require.NoError(t, pub.Publish(ctx, a))
	require.NoError(t, pub.PublishBatch(ctx, []*models.PredictionRecord{b, nil, a}))
	require.NoError(t, pub.PublishBatch(ctx, nil))

	assert.Equal(t, "fincast.predictions", fp.topic)
	assert.Equal(t, []string{"AAPL", "MSFT", "AAPL"}, fp.keys)
	assert.Same(t, a, fp.values[0])

	require.NoError(t, pub.Close())
	assert.True(t, fp.closed)
}
