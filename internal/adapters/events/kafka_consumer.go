package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type Message struct {
	Topic     string
	Key       string
	Partition int
	Offset    int64
	Payload   []byte

	raw kafka.Message
}

// Consumer hands out messages without acknowledging them. Commit marks messages as
// processed; anything fetched but never committed is redelivered after a restart or
// rebalance.
type Consumer interface {
	Poll(ctx context.Context, limit int) ([]Message, error)
	Commit(ctx context.Context, msgs []Message) error
}

// KafkaConsumer reads inbound topics through a consumer group with explicit commits.
type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewKafkaConsumer(brokers []string, groupID string, topics []string) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return &KafkaConsumer{reader: reader}, nil
}

func (c *KafkaConsumer) Poll(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	out := make([]Message, 0, limit)
	for len(out) < limit {
		readCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		msg, err := c.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				return out, nil
			case errors.Is(err, context.Canceled):
				return out, ctx.Err()
			default:
				return out, err
			}
		}
		out = append(out, Message{
			Topic:     msg.Topic,
			Key:       string(msg.Key),
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Payload:   msg.Value,
			raw:       msg,
		})
	}
	return out, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	raw := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		raw = append(raw, msg.raw)
	}
	if err := c.reader.CommitMessages(ctx, raw...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
