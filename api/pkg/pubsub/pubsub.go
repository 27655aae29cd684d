package pubsub

import (
	"context"
)

//go:generate mockgen -source $GOFILE -destination pubsub_mocks.go -package $GOPACKAGE

type Publisher interface {
	// Publish topic to message broker with payload.
	Publish(ctx context.Context, topic string, payload []byte) error
}

type PubSub interface {
	Publisher
	Subscribe(ctx context.Context, topic string, handler func(payload []byte) error) (Subscription, error)
	Close() error
}

type Subscription interface {
	Unsubscribe() error
}

// GetLifecycleTopic returns the subject relay lifecycle events of the given
// kind are published on, e.g. "zerotunnel.session.opened".
func GetLifecycleTopic(prefix, kind string) string {
	return prefix + "." + kind
}

// GetLifecycleWildcard matches every lifecycle subject under prefix.
func GetLifecycleWildcard(prefix string) string {
	return prefix + ".>"
}
