package repository

import (
	"context"
	"fmt"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
)

// MessagePublisher is the subset of pkg/kafka.Producer used here.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value any) error
	Close() error
}

// KafkaCasePublisher publishes analysed cases keyed by match so that
// events of one match stay ordered on a partition.
type KafkaCasePublisher struct {
	producer MessagePublisher
	topic    string
}

func NewKafkaCasePublisher(producer MessagePublisher, topic string) *KafkaCasePublisher {
	return &KafkaCasePublisher{producer: producer, topic: topic}
}

func (p *KafkaCasePublisher) PublishCase(ctx context.Context, c *models.CaseRecord) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(c.MatchKey), c); err != nil {
		return fmt.Errorf("publish case %s: %w", c.ID, err)
	}
	return nil
}

func (p *KafkaCasePublisher) Close() error {
	return p.producer.Close()
}

var _ domrepo.CasePublisher = (*KafkaCasePublisher)(nil)
