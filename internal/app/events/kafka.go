package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bookmart/bookstore/pkg/logger"
)

// KafkaPublisher writes JSON-encoded events to Kafka.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaPublisher builds a publisher for the given brokers. The topic is
// chosen per call so one writer serves all event streams.
func NewKafkaPublisher(brokers []string, log *logger.Logger) *KafkaPublisher {
	if log == nil {
		log = logger.NewDefault("events")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.WithError(err).WithField("topic", topic).Warn("publish failed")
		return err
	}
	return nil
}

// Close flushes buffered messages and releases the connection.
func (p *KafkaPublisher) Close() error { return p.writer.Close() }
