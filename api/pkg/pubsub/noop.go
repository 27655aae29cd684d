package pubsub

import (
	"context"
)

// NoopPubSub discards every publish. Subscriptions never fire and can be
// safely unsubscribed.
type NoopPubSub struct{}

var _ PubSub = &NoopPubSub{}

func NewNoop() *NoopPubSub {
	return &NoopPubSub{}
}

func (n *NoopPubSub) Publish(_ context.Context, _ string, _ []byte) error {
	return nil
}

func (n *NoopPubSub) Subscribe(_ context.Context, _ string, _ func(payload []byte) error) (Subscription, error) {
	return &noopSubscription{}, nil
}

func (n *NoopPubSub) Close() error {
	return nil
}

type noopSubscription struct{}

func (s *noopSubscription) Unsubscribe() error { return nil }
