// Package directory keeps the relay's live mapping of agent name to the
// connection that registered it.
package directory

import (
	"errors"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
)

// Agent is one registered agent connection and the browser sessions it is
// currently serving.
type Agent struct {
	Name     string
	Conn     types.Conn
	sessions map[string]struct{}
}

// Sessions returns the browser ids the agent is serving, in no particular
// order.
func (a *Agent) Sessions() []string {
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (a *Agent) SessionCount() int {
	return len(a.sessions)
}

// Directory is not safe for concurrent use; the router owns it and only
// touches it from its reactor goroutine.
type Directory struct {
	agents map[string]*Agent
	owners map[string]string // conn id -> name
	order  []string
}

func New() *Directory {
	return &Directory{
		agents: make(map[string]*Agent),
		owners: make(map[string]string),
	}
}

// Register inserts or replaces the entry for name. A replaced connection is
// returned but not closed or notified: it simply becomes unroutable. The
// name keeps its original position in registration order. A connection
// that registers again under a different name gives up its previous name.
func (d *Directory) Register(name string, conn types.Conn) (replaced types.Conn) {
	if previous, ok := d.owners[conn.ID()]; ok && previous != name {
		d.remove(previous)
	}
	if existing, ok := d.agents[name]; ok {
		if existing.Conn.ID() == conn.ID() {
			return nil
		}
		replaced = existing.Conn
		delete(d.owners, existing.Conn.ID())
	} else {
		d.order = append(d.order, name)
	}
	d.agents[name] = &Agent{
		Name:     name,
		Conn:     conn,
		sessions: make(map[string]struct{}),
	}
	d.owners[conn.ID()] = name
	return replaced
}

// Unregister removes and returns the entry owned by conn. A connection
// whose name has since been claimed by a newer registration owns nothing
// and removes nothing.
func (d *Directory) Unregister(conn types.Conn) (*Agent, bool) {
	name, ok := d.owners[conn.ID()]
	if !ok {
		return nil, false
	}
	agent := d.agents[name]
	d.remove(name)
	return agent, true
}

func (d *Directory) remove(name string) {
	if agent, ok := d.agents[name]; ok {
		delete(d.owners, agent.Conn.ID())
		delete(d.agents, name)
	}
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

func (d *Directory) Lookup(name string) (types.Conn, bool) {
	agent, ok := d.agents[name]
	if !ok {
		return nil, false
	}
	return agent.Conn, true
}

func (d *Directory) Get(name string) (*Agent, bool) {
	agent, ok := d.agents[name]
	return agent, ok
}

// Owns reports whether conn is the connection currently registered under
// name.
func (d *Directory) Owns(name string, conn types.Conn) bool {
	agent, ok := d.agents[name]
	return ok && agent.Conn.ID() == conn.ID()
}

// ListNames returns a snapshot of the registered names in registration
// order.
func (d *Directory) ListNames() []string {
	names := make([]string, len(d.order))
	copy(names, d.order)
	return names
}

// AddSession records that the named agent is serving browserID.
func (d *Directory) AddSession(name, browserID string) error {
	agent, ok := d.agents[name]
	if !ok {
		return ErrAgentNotFound
	}
	agent.sessions[browserID] = struct{}{}
	return nil
}

// RemoveSession forgets browserID on the named agent. Unknown agents and
// unknown sessions are ignored.
func (d *Directory) RemoveSession(name, browserID string) {
	if agent, ok := d.agents[name]; ok {
		delete(agent.sessions, browserID)
	}
}
