package types

type WebsocketEventType string

// Agent channel (/agents) and browser channel (/web-clients) events.
const (
	WebsocketEventAgentRegister     WebsocketEventType = "agent-register"
	WebsocketEventUpdatePCList      WebsocketEventType = "update-pc-list"
	WebsocketEventSelectPC          WebsocketEventType = "select-pc"
	WebsocketEventCreateNewTerminal WebsocketEventType = "create-new-terminal"
	WebsocketEventPCSelectedAck     WebsocketEventType = "pc-selected-ack"
	WebsocketEventPCSelectError     WebsocketEventType = "pc-select-error"
	WebsocketEventTerminalInput     WebsocketEventType = "terminal-input"
	WebsocketEventTerminalResize    WebsocketEventType = "terminal-resize"
	WebsocketEventTerminalOutput    WebsocketEventType = "terminal-output"
	WebsocketEventCloseTerminal     WebsocketEventType = "close-terminal"
	WebsocketEventCloseTerminalAck  WebsocketEventType = "close-terminal-ack"
)

// Channel identifies which side of the relay a frame travels on and in
// which direction. Each channel accepts a fixed subset of events.
type Channel string

const (
	// ChannelAgentToRelay carries frames an agent sends to the relay.
	ChannelAgentToRelay Channel = "agent->relay"
	// ChannelRelayToAgent carries frames the relay sends to an agent.
	ChannelRelayToAgent Channel = "relay->agent"
	// ChannelBrowserToRelay carries frames a browser sends to the relay.
	ChannelBrowserToRelay Channel = "browser->relay"
	// ChannelRelayToBrowser carries frames the relay sends to a browser.
	ChannelRelayToBrowser Channel = "relay->browser"
)

// LifecycleEventType names the relay lifecycle notifications published on
// the pubsub bus.
type LifecycleEventType string

const (
	LifecycleAgentRegistered   LifecycleEventType = "agent.registered"
	LifecycleAgentUnregistered LifecycleEventType = "agent.unregistered"
	LifecycleSessionOpened     LifecycleEventType = "session.opened"
	LifecycleSessionClosed     LifecycleEventType = "session.closed"
)
