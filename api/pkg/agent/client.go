package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/config"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

var ErrNotConnected = errors.New("not connected to relay")

// Client keeps an agent connected to the relay, reconnecting after a fixed
// delay whenever the connection is lost.
type Client struct {
	cfg    config.AgentConfig
	dialer *websocket.Dialer
	mux    *Multiplexer

	mu   sync.Mutex // guards conn and serialises writes
	conn *websocket.Conn
}

// NewClient creates a client that spawns terminals with spawner.
func NewClient(cfg config.AgentConfig, spawner Spawner) *Client {
	c := &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
			},
		},
	}
	c.mux = NewMultiplexer(spawner, c, cfg.InitialCols, cfg.InitialRows)
	return c
}

func (c *Client) Multiplexer() *Multiplexer {
	return c.mux
}

// Run connects to the relay and serves it until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	relayURL, err := RelayWebsocketURL(c.cfg.RelayURL)
	if err != nil {
		return err
	}

	log.Info().
		Str("relay", relayURL).
		Str("agent", c.cfg.Name).
		Msg("starting agent")

	err = retry.Do(
		func() error {
			return c.runConnection(ctx, relayURL)
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(c.cfg.ReconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().
				Err(err).
				Uint("attempt", n+1).
				Dur("reconnect_in", c.cfg.ReconnectDelay).
				Msg("relay connection lost, reconnecting")
		}),
	)
	if ctx.Err() != nil {
		log.Info().Msg("agent shutting down")
		return nil
	}
	return err
}

// runConnection serves one relay connection. It always returns an error
// so the caller reconnects.
func (c *Client) runConnection(ctx context.Context, relayURL string) error {
	conn, _, err := c.dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}
	defer c.disconnect(conn)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if err := c.Send(types.AgentRegister{Name: c.cfg.Name}); err != nil {
		return fmt.Errorf("failed to register with relay: %w", err)
	}
	log.Info().Str("agent", c.cfg.Name).Msg("connected to relay")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay connection closed: %w", err)
		}
		ev, err := types.Decode(types.ChannelRelayToAgent, data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed event from relay")
			continue
		}
		c.mux.HandleEvent(ev)
	}
}

func (c *Client) disconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	_ = conn.Close()
	c.mux.OnRelayDisconnect()
}

// Send writes ev to the current relay connection.
func (c *Client) Send(ev types.Event) error {
	data, err := types.Encode(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// RelayWebsocketURL turns the relay's base URL into the agent endpoint,
// e.g. https://relay.example.com becomes wss://relay.example.com/agents.
func RelayWebsocketURL(rootURL string) (string, error) {
	u, err := url.Parse(rootURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", rootURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay url %q: scheme must be http, https, ws or wss", rootURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid relay url %q: missing host", rootURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/agents"
	return u.String(), nil
}
