package repository

import (
	"context"

	"ForecastMCP/internal/domain/models"
	domrepo "ForecastMCP/internal/domain/repository"
	pkgkafka "ForecastMCP/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

type messageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}, headers ...kafka.Header) error
	Close() error
}

// KafkaEventPublisher implements EventPublisher for Kafka.
type KafkaEventPublisher struct {
	producer messageProducer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

// Publish keys the message by study id so one study stays on one partition.
func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.StudyEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.StudyID), ev,
		kafka.Header{Key: "event_type", Value: []byte(ev.Type)},
	)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopEventPublisher is used when Kafka is disabled.
type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, models.StudyEvent) error { return nil }
func (NopEventPublisher) Close() error                                     { return nil }

var (
	_ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ domrepo.EventPublisher = NopEventPublisher{}
)
