package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Event is one variant of the wire protocol. Every payload struct below
// implements it.
type Event interface {
	EventType() WebsocketEventType
}

// WebsocketEvent is the frame envelope exchanged on both channels.
type WebsocketEvent struct {
	Type    WebsocketEventType `json:"type"`
	Payload json.RawMessage    `json:"payload,omitempty"`
}

type AgentRegister struct {
	Name string `json:"name"`
}

type PCList struct {
	Names []string `json:"names"`
}

type SelectPC struct {
	Name string `json:"name"`
}

type CreateNewTerminal struct {
	BrowserID string `json:"browserId"`
}

type PCSelectedAck struct {
	Name string `json:"name"`
}

type PCSelectError struct {
	Message string `json:"message"`
}

// TerminalInput carries keystrokes. Browsers omit BrowserID; the relay
// fills it in before forwarding to the agent.
type TerminalInput struct {
	BrowserID string `json:"browserId,omitempty"`
	Data      string `json:"data"`
}

type TerminalResize struct {
	BrowserID string `json:"browserId,omitempty"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

// TerminalOutput carries shell output. Agents set BrowserID; the relay
// strips it before forwarding to the browser.
type TerminalOutput struct {
	BrowserID string `json:"browserId,omitempty"`
	Data      string `json:"data"`
}

type CloseTerminal struct {
	BrowserID string `json:"browserId,omitempty"`
}

type CloseTerminalAck struct{}

func (AgentRegister) EventType() WebsocketEventType     { return WebsocketEventAgentRegister }
func (PCList) EventType() WebsocketEventType            { return WebsocketEventUpdatePCList }
func (SelectPC) EventType() WebsocketEventType          { return WebsocketEventSelectPC }
func (CreateNewTerminal) EventType() WebsocketEventType { return WebsocketEventCreateNewTerminal }
func (PCSelectedAck) EventType() WebsocketEventType     { return WebsocketEventPCSelectedAck }
func (PCSelectError) EventType() WebsocketEventType     { return WebsocketEventPCSelectError }
func (TerminalInput) EventType() WebsocketEventType     { return WebsocketEventTerminalInput }
func (TerminalResize) EventType() WebsocketEventType    { return WebsocketEventTerminalResize }
func (TerminalOutput) EventType() WebsocketEventType    { return WebsocketEventTerminalOutput }
func (CloseTerminal) EventType() WebsocketEventType     { return WebsocketEventCloseTerminal }
func (CloseTerminalAck) EventType() WebsocketEventType  { return WebsocketEventCloseTerminalAck }

// LifecycleEvent is published on the pubsub bus whenever the relay's
// routing state changes.
type LifecycleEvent struct {
	Type      LifecycleEventType `json:"type"`
	Agent     string             `json:"agent"`
	BrowserID string             `json:"browserId,omitempty"`
	Time      time.Time          `json:"time"`
}

// Conn is a connection as seen by the routing engine. Send must not block
// for longer than it takes to enqueue the frame.
type Conn interface {
	ID() string
	Send(ev Event) error
	Close() error
}

type validator interface {
	validate(ch Channel) error
}

func (e *AgentRegister) validate(Channel) error {
	if e.Name == "" {
		return fmt.Errorf("%w: agent name is required", ErrMalformedEvent)
	}
	return nil
}

func (e *SelectPC) validate(Channel) error {
	if e.Name == "" {
		return fmt.Errorf("%w: pc name is required", ErrMalformedEvent)
	}
	return nil
}

func (e *CreateNewTerminal) validate(Channel) error {
	if e.BrowserID == "" {
		return fmt.Errorf("%w: browserId is required", ErrMalformedEvent)
	}
	return nil
}

func (e *TerminalInput) validate(ch Channel) error {
	if ch == ChannelRelayToAgent && e.BrowserID == "" {
		return fmt.Errorf("%w: browserId is required", ErrMalformedEvent)
	}
	return nil
}

func (e *TerminalResize) validate(ch Channel) error {
	if e.Cols == 0 || e.Rows == 0 {
		return fmt.Errorf("%w: cols and rows must be positive", ErrMalformedEvent)
	}
	if ch == ChannelRelayToAgent && e.BrowserID == "" {
		return fmt.Errorf("%w: browserId is required", ErrMalformedEvent)
	}
	return nil
}

func (e *TerminalOutput) validate(ch Channel) error {
	if ch == ChannelAgentToRelay && e.BrowserID == "" {
		return fmt.Errorf("%w: browserId is required", ErrMalformedEvent)
	}
	return nil
}

func (e *CloseTerminal) validate(ch Channel) error {
	if ch == ChannelRelayToAgent && e.BrowserID == "" {
		return fmt.Errorf("%w: browserId is required", ErrMalformedEvent)
	}
	return nil
}
