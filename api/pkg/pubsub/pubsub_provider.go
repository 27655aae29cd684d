package pubsub

import (
	"fmt"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/config"
)

type Provider string

const (
	ProviderNoop Provider = "noop"
	ProviderNats Provider = "nats"
)

// New builds the PubSub selected by cfg. The nats provider connects to
// cfg.NatsURL, or starts an embedded in-memory server when it is empty.
func New(cfg config.PubSub) (PubSub, error) {
	switch Provider(cfg.Provider) {
	case ProviderNoop, "":
		return NewNoop(), nil
	case ProviderNats:
		if cfg.NatsURL == "" {
			return NewInMemoryNats()
		}
		return NewNats(cfg.NatsURL)
	default:
		return nil, fmt.Errorf("unknown pubsub provider %q", cfg.Provider)
	}
}
