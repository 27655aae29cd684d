package types

import (
	"encoding/json"
	"fmt"
)

type decodeFunc func(payload json.RawMessage, ch Channel) (Event, error)

var channelEvents = map[Channel]map[WebsocketEventType]decodeFunc{
	ChannelAgentToRelay: {
		WebsocketEventAgentRegister:  decodeAs[AgentRegister],
		WebsocketEventTerminalOutput: decodeAs[TerminalOutput],
	},
	ChannelRelayToAgent: {
		WebsocketEventCreateNewTerminal: decodeAs[CreateNewTerminal],
		WebsocketEventTerminalInput:     decodeAs[TerminalInput],
		WebsocketEventTerminalResize:    decodeAs[TerminalResize],
		WebsocketEventCloseTerminal:     decodeAs[CloseTerminal],
	},
	ChannelBrowserToRelay: {
		WebsocketEventSelectPC:       decodeAs[SelectPC],
		WebsocketEventTerminalInput:  decodeAs[TerminalInput],
		WebsocketEventTerminalResize: decodeAs[TerminalResize],
		WebsocketEventCloseTerminal:  decodeAs[CloseTerminal],
	},
	ChannelRelayToBrowser: {
		WebsocketEventUpdatePCList:     decodeAs[PCList],
		WebsocketEventPCSelectedAck:    decodeAs[PCSelectedAck],
		WebsocketEventPCSelectError:    decodeAs[PCSelectError],
		WebsocketEventTerminalOutput:   decodeAs[TerminalOutput],
		WebsocketEventCloseTerminalAck: decodeAs[CloseTerminalAck],
	},
}

func decodeAs[T Event](payload json.RawMessage, ch Channel) (Event, error) {
	var v T
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, v.EventType(), err)
		}
	}
	if val, ok := any(&v).(validator); ok {
		if err := val.validate(ch); err != nil {
			return nil, fmt.Errorf("%s: %w", v.EventType(), err)
		}
	}
	return v, nil
}

// Encode wraps ev in a WebsocketEvent envelope.
func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.EventType(), err)
	}
	return json.Marshal(WebsocketEvent{
		Type:    ev.EventType(),
		Payload: payload,
	})
}

// Decode parses a frame received on ch. Events that are not valid for the
// channel yield ErrUnknownEvent; bad JSON or missing fields yield
// ErrMalformedEvent.
func Decode(ch Channel, data []byte) (Event, error) {
	var envelope WebsocketEvent
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	decoders, ok := channelEvents[ch]
	if !ok {
		return nil, fmt.Errorf("unsupported channel %q", ch)
	}
	decode, ok := decoders[envelope.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %s", ErrUnknownEvent, envelope.Type, ch)
	}
	return decode(envelope.Payload, ch)
}
