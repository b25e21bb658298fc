package repository

import (
	"context"

	"FinCast/internal/domain/models"
	pkgkafka "FinCast/pkg/kafka"
)

// RecordProducer is the subset of the Kafka producer the publisher needs.
type RecordProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaRecordPublisher implements RecordPublisher. Records are JSON keyed
// by symbol so one symbol stays on one partition.
type KafkaRecordPublisher struct {
	producer RecordProducer
	topic    string
}

func NewKafkaRecordPublisher(producer RecordProducer, topic string) *KafkaRecordPublisher {
	return &KafkaRecordPublisher{producer: producer, topic: topic}
}

func (p *KafkaRecordPublisher) Topic() string { return p.topic }

func (p *KafkaRecordPublisher) Publish(ctx context.Context, r *models.PredictionRecord) error {
	return p.producer.Publish(ctx, p.topic, []byte(r.Symbol), r)
}

func (p *KafkaRecordPublisher) PublishBatch(ctx context.Context, rs []*models.PredictionRecord) error {
	if len(rs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(rs))
	for _, r := range rs {
		if r == nil {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{Key: []byte(r.Symbol), Value: r})
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaRecordPublisher) Close() error {
	return p.producer.Close()
}
