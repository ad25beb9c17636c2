package events

import "context"

// NoopConsumer is used when the worker runs without brokers.
type NoopConsumer struct{}

func NewNoopConsumer() *NoopConsumer {
	return &NoopConsumer{}
}

func (n *NoopConsumer) Poll(_ context.Context, _ int) ([]Message, error) {
	return nil, nil
}

func (n *NoopConsumer) Commit(_ context.Context, _ []Message) error {
	return nil
}
