// Package router pairs browsers with agents and relays terminal traffic
// between them.
//
// All routing state lives in two stores, the agent directory and the
// browser session table. Both are owned by a single reactor goroutine
// (Run); transport goroutines never touch them directly and instead submit
// events through the On* methods, which are safe for concurrent use.
// Messages from one connection are handled in the order they were
// submitted.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/directory"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/pubsub"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/sessions"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

const defaultInboxSize = 1024

var ErrStopped = errors.New("router stopped")

type Options struct {
	// Publisher receives lifecycle events. Nil disables publishing.
	Publisher pubsub.Publisher
	// SubjectPrefix prefixes lifecycle subjects, e.g. "zerotunnel".
	SubjectPrefix string
	InboxSize     int
}

type Router struct {
	agents   *directory.Directory
	browsers *sessions.Table

	publisher     pubsub.Publisher
	subjectPrefix string

	inbox chan func()
	done  chan struct{}
	now   func() time.Time
}

func New(opts Options) *Router {
	inboxSize := opts.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = pubsub.NewNoop()
	}
	prefix := opts.SubjectPrefix
	if prefix == "" {
		prefix = "zerotunnel"
	}
	return &Router{
		agents:        directory.New(),
		browsers:      sessions.New(),
		publisher:     publisher,
		subjectPrefix: prefix,
		inbox:         make(chan func(), inboxSize),
		done:          make(chan struct{}),
		now:           time.Now,
	}
}

// Run processes submitted events until ctx is cancelled. It must be called
// exactly once.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.done)

	log.Info().Msg("router started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("router stopped")
			return nil
		case fn := <-r.inbox:
			fn()
		}
	}
}

func (r *Router) submit(fn func()) bool {
	select {
	case r.inbox <- fn:
		return true
	case <-r.done:
		return false
	}
}

// OnBrowserConnect registers a new browser connection and sends it the
// current directory.
func (r *Router) OnBrowserConnect(conn types.Conn) {
	r.submit(func() { r.handleBrowserConnect(conn) })
}

// OnBrowserEvent handles a decoded frame from the browser channel.
func (r *Router) OnBrowserEvent(browserID string, ev types.Event) {
	r.submit(func() { r.handleBrowserEvent(browserID, ev) })
}

// OnBrowserDisconnect must be called exactly once per browser connection.
func (r *Router) OnBrowserDisconnect(browserID string) {
	r.submit(func() { r.handleBrowserDisconnect(browserID) })
}

// OnAgentEvent handles a decoded frame from the agent channel.
func (r *Router) OnAgentEvent(conn types.Conn, ev types.Event) {
	r.submit(func() { r.handleAgentEvent(conn, ev) })
}

// OnAgentDisconnect must be called exactly once per agent connection.
func (r *Router) OnAgentDisconnect(conn types.Conn) {
	r.submit(func() { r.handleAgentDisconnect(conn) })
}

type Stats struct {
	Agents   []string `json:"agents"`
	Browsers int      `json:"browsers"`
	Attached int      `json:"attached"`
	// Sessions counts processes the registered agents are running for
	// browsers.
	Sessions int `json:"sessions"`
}

// Stats returns a consistent snapshot of the routing state.
func (r *Router) Stats(ctx context.Context) (Stats, error) {
	result := make(chan Stats, 1)
	if !r.submit(func() {
		stats := Stats{
			Agents:   r.agents.ListNames(),
			Browsers: r.browsers.Len(),
		}
		r.browsers.Each(func(session sessions.BrowserSession) {
			if session.Attached() {
				stats.Attached++
			}
		})
		for _, name := range stats.Agents {
			if agent, ok := r.agents.Get(name); ok {
				stats.Sessions += agent.SessionCount()
			}
		}
		result <- stats
	}) {
		return Stats{}, ErrStopped
	}
	select {
	case stats := <-result:
		return stats, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-r.done:
		return Stats{}, ErrStopped
	}
}

func (r *Router) send(conn types.Conn, ev types.Event) {
	if err := conn.Send(ev); err != nil {
		log.Debug().
			Err(err).
			Str("conn_id", conn.ID()).
			Str("event", string(ev.EventType())).
			Msg("failed to send event")
	}
}

func (r *Router) publish(kind types.LifecycleEventType, agent, browserID string) {
	payload, err := json.Marshal(types.LifecycleEvent{
		Type:      kind,
		Agent:     agent,
		BrowserID: browserID,
		Time:      r.now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal lifecycle event")
		return
	}
	topic := pubsub.GetLifecycleTopic(r.subjectPrefix, string(kind))
	if err := r.publisher.Publish(context.Background(), topic, payload); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to publish lifecycle event")
	}
}
