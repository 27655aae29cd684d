package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type RelayConfig struct {
	WebServer WebServer
	Auth      Auth
	PubSub    PubSub
	Logging   Logging
}

type WebServer struct {
	Host      string `envconfig:"HOST" default:"0.0.0.0" description:"The interface the relay listens on."`
	Port      int    `envconfig:"PORT" default:"8000" description:"The port the relay listens on."`
	StaticDir string `envconfig:"STATIC_DIR" default:"./public" description:"Directory of browser assets served at /."`

	PingInterval    time.Duration `envconfig:"PING_INTERVAL" default:"15s" description:"How often the relay pings every WebSocket to keep it alive through proxies."`
	SendQueueSize   int           `envconfig:"SEND_QUEUE_SIZE" default:"256" description:"Outbound frames buffered per connection before it is dropped as too slow."`
	MaxMessageBytes int64         `envconfig:"MAX_MESSAGE_BYTES" default:"1048576" description:"Largest frame accepted from a browser or agent."`
}

// Auth gates the browser channel. Basic auth is enforced only when both
// values are set.
type Auth struct {
	BasicAuthUser     string `envconfig:"BASIC_AUTH_USER" description:"Username required to open the web terminal."`
	BasicAuthPassword string `envconfig:"BASIC_AUTH_PASSWORD" description:"Password required to open the web terminal."`
	Realm             string `envconfig:"BASIC_AUTH_REALM" default:"Web Terminal Login" description:"Realm shown in the browser login prompt."`
}

func (a Auth) Enabled() bool {
	return a.BasicAuthUser != "" && a.BasicAuthPassword != ""
}

type PubSub struct {
	Provider      string `envconfig:"PUBSUB_PROVIDER" default:"noop" description:"One of noop or nats."`
	NatsURL       string `envconfig:"NATS_URL" description:"External NATS server. Empty starts an embedded in-memory server when the provider is nats."`
	SubjectPrefix string `envconfig:"PUBSUB_SUBJECT_PREFIX" default:"zerotunnel" description:"Prefix of the lifecycle event subjects."`
}

type Logging struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info" description:"One of trace, debug, info, warn, error."`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false" description:"Human readable console logs instead of JSON."`
}

func LoadRelayConfig() (RelayConfig, error) {
	var cfg RelayConfig
	err := envconfig.Process("", &cfg)
	if err != nil {
		return RelayConfig{}, err
	}
	if cfg.WebServer.SendQueueSize <= 0 {
		return RelayConfig{}, fmt.Errorf("SEND_QUEUE_SIZE must be positive")
	}
	return cfg, nil
}

type AgentConfig struct {
	Name           string        `envconfig:"AGENT_NAME" description:"Name browsers select this agent by. Defaults to the hostname."`
	RelayURL       string        `envconfig:"ROOT_URL" required:"true" description:"Base URL of the relay, e.g. https://relay.example.com."`
	ReconnectDelay time.Duration `envconfig:"RECONNECT_DELAY" default:"5s" description:"Fixed delay between reconnection attempts."`

	InsecureSkipVerify bool `envconfig:"INSECURE_SKIP_VERIFY" default:"false" description:"Skip TLS certificate verification (for self-signed certs)."`

	Shell       string `envconfig:"SHELL" description:"Shell to spawn per session. Defaults to bash, or powershell.exe on Windows."`
	TermName    string `envconfig:"TERM_NAME" default:"xterm-color" description:"TERM exported to spawned shells."`
	InitialCols uint16 `envconfig:"INITIAL_COLS" default:"80" description:"Width of a new terminal before the browser resizes it."`
	InitialRows uint16 `envconfig:"INITIAL_ROWS" default:"24" description:"Height of a new terminal before the browser resizes it."`

	Logging Logging
}

// LoadAgentConfig loads the agent configuration, filling in the hostname as
// the agent name and the platform shell when they are not set.
func LoadAgentConfig() (AgentConfig, error) {
	var cfg AgentConfig
	err := envconfig.Process("", &cfg)
	if err != nil {
		return AgentConfig{}, err
	}

	if cfg.RelayURL == "" {
		return AgentConfig{}, fmt.Errorf("ROOT_URL is required")
	}

	if cfg.Name == "" {
		cfg.Name, err = os.Hostname()
		if err != nil {
			return AgentConfig{}, fmt.Errorf("AGENT_NAME not set and hostname unavailable: %w", err)
		}
	}

	if cfg.Shell == "" {
		cfg.Shell = DefaultShell()
	}

	return cfg, nil
}

func DefaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	return "bash"
}
