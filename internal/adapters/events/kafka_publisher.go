package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes outbox rows to Kafka keyed by referral code, so every event for
// one code lands on the same partition in order.
type KafkaPublisher struct {
	writer      *kafka.Writer
	topicPrefix string
	overrides   map[string]string
}

func NewKafkaPublisher(brokers []string, topicPrefix string, overrides map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
		topicPrefix: strings.TrimSpace(topicPrefix),
		overrides:   overrides,
	}, nil
}

// Topic resolves the Kafka topic for an outbox event type.
func (p *KafkaPublisher) Topic(eventType string) string {
	if mapped, ok := p.overrides[eventType]; ok && mapped != "" {
		return mapped
	}
	return p.topicPrefix + eventType
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	msg := kafka.Message{
		Topic: p.Topic(eventType),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if partitionKey != "" {
		msg.Key = []byte(partitionKey)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
