package repository

import (
	"context"

	"StreamPull/internal/domain/models"
	"StreamPull/internal/domain/repository"
	pkgkafka "StreamPull/pkg/kafka"
)

// BatchProducer is the part of pkg/kafka.Producer the publisher uses.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaPublisher implements Publisher for Kafka. Messages are keyed by feed
// id so every report of a feed lands on the same partition in order.
type KafkaPublisher struct {
	producer BatchProducer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer BatchProducer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, r *models.FeedReport) error {
	return p.PublishBatch(ctx, []*models.FeedReport{r})
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, reports []*models.FeedReport) error {
	msgs := make([]pkgkafka.Message, 0, len(reports))
	for _, r := range reports {
		if r == nil || r.Decoded == nil {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{
			Key:   []byte(r.Feed.FeedID),
			Value: r,
			Headers: map[string]string{
				"symbol": r.Symbol,
				"mode":   r.Decoded.Mode.String(),
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
