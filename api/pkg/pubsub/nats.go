package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type Nats struct {
	conn           *nats.Conn
	embeddedServer *server.Server
}

var _ PubSub = &Nats{}

// NewInMemoryNats starts a NATS server inside the relay process, listening
// on a random loopback port, and connects to it.
func NewInMemoryNats() (*Nats, error) {
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(4 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to start in-memory nats server")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &Nats{
		conn:           nc,
		embeddedServer: ns,
	}, nil
}

// NewNats connects to an external NATS server.
func NewNats(url string) (*Nats, error) {
	nc, err := nats.Connect(url,
		nats.Name("zerotunnel-relay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return &Nats{conn: nc}, nil
}

// ClientURL is the address other processes can use to subscribe.
func (n *Nats) ClientURL() string {
	if n.embeddedServer != nil {
		return n.embeddedServer.ClientURL()
	}
	return n.conn.ConnectedUrl()
}

func (n *Nats) Subscribe(_ context.Context, topic string, handler func(payload []byte) error) (Subscription, error) {
	sub, err := n.conn.Subscribe(topic, func(msg *nats.Msg) {
		err := handler(msg.Data)
		if err != nil {
			log.Err(err).Str("topic", msg.Subject).Msg("error handling message")
		}
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// Publish does not wait for the server; the nats client buffers outgoing
// messages, so it is safe to call from latency-sensitive goroutines.
func (n *Nats) Publish(_ context.Context, topic string, payload []byte) error {
	return n.conn.Publish(topic, payload)
}

func (n *Nats) Close() error {
	if n.conn != nil {
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
		}
	}
	if n.embeddedServer != nil {
		n.embeddedServer.Shutdown()
	}
	return nil
}
