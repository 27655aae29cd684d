// Package sessions tracks every connected browser and the agent it has
// selected, if any.
package sessions

import (
	"errors"
	"fmt"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/directory"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

var (
	ErrBrowserNotFound = errors.New("browser not found")
)

// AgentNotFoundError is returned by SelectAgent when the requested agent is
// not in the directory.
type AgentNotFoundError struct {
	Name string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("Agent '%s' is not connected.", e.Name)
}

func (e *AgentNotFoundError) Unwrap() error {
	return directory.ErrAgentNotFound
}

// AgentLookup is the part of the agent directory the table needs.
type AgentLookup interface {
	Lookup(name string) (types.Conn, bool)
}

type BrowserSession struct {
	ID   string
	Conn types.Conn
	// Agent is the selected agent name; empty means unattached.
	Agent string
}

func (s *BrowserSession) Attached() bool {
	return s.Agent != ""
}

// Table is owned by the router's reactor goroutine and is not safe for
// concurrent use.
type Table struct {
	browsers map[string]*BrowserSession
}

func New() *Table {
	return &Table{
		browsers: make(map[string]*BrowserSession),
	}
}

// AddBrowser inserts a new unattached session. Adding an id twice resets it.
func (t *Table) AddBrowser(id string, conn types.Conn) {
	t.browsers[id] = &BrowserSession{ID: id, Conn: conn}
}

// RemoveBrowser removes and returns the session so the caller can clean up
// whatever it was attached to.
func (t *Table) RemoveBrowser(id string) (BrowserSession, bool) {
	session, ok := t.browsers[id]
	if !ok {
		return BrowserSession{}, false
	}
	delete(t.browsers, id)
	return *session, true
}

// SelectAgent attaches the browser to agentName. The selection is recorded
// optimistically: the agent has not yet created a process when this
// returns. On failure nothing is mutated.
func (t *Table) SelectAgent(browserID, agentName string, agents AgentLookup) error {
	session, ok := t.browsers[browserID]
	if !ok {
		return ErrBrowserNotFound
	}
	if _, ok := agents.Lookup(agentName); !ok {
		return &AgentNotFoundError{Name: agentName}
	}
	session.Agent = agentName
	return nil
}

func (t *Table) CurrentAgent(browserID string) (string, bool) {
	session, ok := t.browsers[browserID]
	if !ok || !session.Attached() {
		return "", false
	}
	return session.Agent, true
}

// ClearSelection detaches the browser and returns the agent it was
// attached to.
func (t *Table) ClearSelection(browserID string) (string, bool) {
	session, ok := t.browsers[browserID]
	if !ok || !session.Attached() {
		return "", false
	}
	previous := session.Agent
	session.Agent = ""
	return previous, true
}

func (t *Table) Get(browserID string) (BrowserSession, bool) {
	session, ok := t.browsers[browserID]
	if !ok {
		return BrowserSession{}, false
	}
	return *session, true
}

// Each calls fn for every connected browser.
func (t *Table) Each(fn func(session BrowserSession)) {
	for _, session := range t.browsers {
		fn(*session)
	}
}

func (t *Table) Len() int {
	return len(t.browsers)
}
