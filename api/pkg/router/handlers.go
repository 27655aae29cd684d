package router

import (
	"github.com/rs/zerolog/log"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/sessions"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

// Everything in this file runs on the reactor goroutine.

func (r *Router) handleBrowserConnect(conn types.Conn) {
	r.browsers.AddBrowser(conn.ID(), conn)
	log.Info().Str("browser_id", conn.ID()).Msg("web client connected")
	r.send(conn, types.PCList{Names: r.agents.ListNames()})
}

func (r *Router) handleBrowserEvent(browserID string, ev types.Event) {
	switch ev := ev.(type) {
	case types.SelectPC:
		r.handleSelect(browserID, ev.Name)
	case types.TerminalInput:
		r.handleInput(browserID, ev)
	case types.TerminalResize:
		r.handleResize(browserID, ev)
	case types.CloseTerminal:
		r.handleClose(browserID)
	default:
		log.Warn().
			Str("browser_id", browserID).
			Str("event", string(ev.EventType())).
			Msg("ignoring unexpected event from web client")
	}
}

func (r *Router) handleSelect(browserID, name string) {
	session, ok := r.browsers.Get(browserID)
	if !ok {
		return
	}

	err := r.browsers.SelectAgent(browserID, name, r.agents)
	if err != nil {
		log.Warn().Err(err).Str("browser_id", browserID).Str("agent", name).Msg("agent not found for web client")
		r.send(session.Conn, types.PCSelectError{Message: err.Error()})
		return
	}

	// one live process per browser: end the previous one first
	if session.Attached() {
		r.closeOnAgent(session.Agent, browserID)
	}

	agentConn, _ := r.agents.Lookup(name)
	_ = r.agents.AddSession(name, browserID)

	log.Info().Str("browser_id", browserID).Str("agent", name).Msg("connecting web client to agent")

	// The browser is acknowledged without waiting for the agent to create
	// the process. Input that races ahead is dropped by the agent.
	r.send(agentConn, types.CreateNewTerminal{BrowserID: browserID})
	r.send(session.Conn, types.PCSelectedAck{Name: name})
	r.publish(types.LifecycleSessionOpened, name, browserID)
}

// selectedAgent resolves the agent connection a browser is attached to.
// A missing selection or a selection whose agent has gone away is the
// normal race around select and close, not an error.
func (r *Router) selectedAgent(browserID string) (types.Conn, bool) {
	name, ok := r.browsers.CurrentAgent(browserID)
	if !ok {
		log.Trace().Str("browser_id", browserID).Msg("no active session, dropping event")
		return nil, false
	}
	conn, ok := r.agents.Lookup(name)
	if !ok {
		log.Trace().Str("browser_id", browserID).Str("agent", name).Msg("selected agent is gone, dropping event")
		return nil, false
	}
	return conn, true
}

func (r *Router) handleInput(browserID string, ev types.TerminalInput) {
	conn, ok := r.selectedAgent(browserID)
	if !ok {
		return
	}
	r.send(conn, types.TerminalInput{BrowserID: browserID, Data: ev.Data})
}

func (r *Router) handleResize(browserID string, ev types.TerminalResize) {
	conn, ok := r.selectedAgent(browserID)
	if !ok {
		return
	}
	r.send(conn, types.TerminalResize{BrowserID: browserID, Cols: ev.Cols, Rows: ev.Rows})
}

func (r *Router) handleClose(browserID string) {
	session, ok := r.browsers.Get(browserID)
	if !ok {
		return
	}
	if name, ok := r.browsers.ClearSelection(browserID); ok {
		r.closeOnAgent(name, browserID)
		log.Info().Str("browser_id", browserID).Str("agent", name).Msg("terminal closed by web client")
	}
	r.send(session.Conn, types.CloseTerminalAck{})
}

func (r *Router) handleBrowserDisconnect(browserID string) {
	session, ok := r.browsers.RemoveBrowser(browserID)
	if !ok {
		return
	}
	log.Info().Str("browser_id", browserID).Msg("web client disconnected")
	if session.Attached() {
		r.closeOnAgent(session.Agent, browserID)
	}
}

// closeOnAgent tells the named agent to destroy the process it runs for
// browserID. Nothing is sent when the agent has already gone.
func (r *Router) closeOnAgent(name, browserID string) {
	conn, ok := r.agents.Lookup(name)
	if !ok {
		return
	}
	r.agents.RemoveSession(name, browserID)
	r.send(conn, types.CloseTerminal{BrowserID: browserID})
	r.publish(types.LifecycleSessionClosed, name, browserID)
}

func (r *Router) handleAgentEvent(conn types.Conn, ev types.Event) {
	switch ev := ev.(type) {
	case types.AgentRegister:
		r.handleAgentRegister(conn, ev.Name)
	case types.TerminalOutput:
		r.handleOutput(conn, ev)
	default:
		log.Warn().
			Str("conn_id", conn.ID()).
			Str("event", string(ev.EventType())).
			Msg("ignoring unexpected event from agent")
	}
}

func (r *Router) handleAgentRegister(conn types.Conn, name string) {
	if replaced := r.agents.Register(name, conn); replaced != nil {
		// the old connection is not closed; its traffic is simply no longer
		// routable
		log.Warn().
			Str("agent", name).
			Str("conn_id", conn.ID()).
			Str("replaced_conn_id", replaced.ID()).
			Msg("agent with this name reconnected, replacing previous connection")
	}
	log.Info().Str("agent", name).Str("conn_id", conn.ID()).Msg("agent registered")
	r.publish(types.LifecycleAgentRegistered, name, "")
	r.broadcastDirectory()
}

func (r *Router) handleOutput(conn types.Conn, ev types.TerminalOutput) {
	session, ok := r.browsers.Get(ev.BrowserID)
	if !ok {
		log.Trace().Str("browser_id", ev.BrowserID).Msg("web client gone, dropping output")
		return
	}
	// Only the agent the browser currently selects may write to it. This
	// drops output that was in flight when the browser closed or switched
	// agents, and output from a connection that has since been replaced.
	if !session.Attached() || !r.agents.Owns(session.Agent, conn) {
		log.Trace().Str("browser_id", ev.BrowserID).Str("conn_id", conn.ID()).Msg("output from unselected agent, dropping")
		return
	}
	r.send(session.Conn, types.TerminalOutput{Data: ev.Data})
}

func (r *Router) handleAgentDisconnect(conn types.Conn) {
	agent, ok := r.agents.Unregister(conn)
	if !ok {
		log.Debug().Str("conn_id", conn.ID()).Msg("unregistered or replaced agent connection closed")
		return
	}

	// Browsers attached to this agent are not told; their next input is
	// dropped.
	log.Info().
		Str("agent", agent.Name).
		Strs("sessions", agent.Sessions()).
		Msg("agent disconnected")

	r.publish(types.LifecycleAgentUnregistered, agent.Name, "")
	r.broadcastDirectory()
}

func (r *Router) broadcastDirectory() {
	list := types.PCList{Names: r.agents.ListNames()}
	log.Debug().Strs("agents", list.Names).Msg("broadcasting updated pc list")
	r.browsers.Each(func(session sessions.BrowserSession) {
		r.send(session.Conn, list)
	})
}
