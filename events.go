package chatwoot

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Realtime Events
// ============================================================================

// EventType enumerates every frame variant the realtime channel emits.
// Unknown exists so protocol additions degrade to ignorable frames instead of
// decode failures.
type EventType int

const (
	EventUnknown EventType = iota
	EventWelcome
	EventPing
	EventConfirmSubscription
	EventMessageCreated
	EventTypingOn
	EventTypingOff
	EventPresenceUpdate
)

func (t EventType) String() string {
	switch t {
	case EventWelcome:
		return "welcome"
	case EventPing:
		return "ping"
	case EventConfirmSubscription:
		return "confirm_subscription"
	case EventMessageCreated:
		return "message_created"
	case EventTypingOn:
		return "typing_on"
	case EventTypingOff:
		return "typing_off"
	case EventPresenceUpdate:
		return "presence_update"
	default:
		return "unknown"
	}
}

// Event is a decoded realtime frame. Exactly one payload field is set,
// depending on Type: Message for EventMessageCreated, Presence for
// EventPresenceUpdate. Events are ephemeral; only the message they may carry
// is ever persisted.
type Event struct {
	Type     EventType
	Message  *Message
	Presence map[string]string
}

// presenceOnline is the marker value the backend uses in presence maps.
const presenceOnline = "online"

// AnyOnline reports whether any participant in a presence_update frame is
// online. The channel exposes presence as a single aggregate signal, not
// per-participant state.
func (e Event) AnyOnline() bool {
	for _, state := range e.Presence {
		if state == presenceOnline {
			return true
		}
	}
	return false
}

// Wire envelopes. Control frames carry a top-level "type"; everything else
// nests under "message" with an "event" discriminator and a polymorphic
// "data" payload. The ping frame's "message" field is an epoch number, which
// is why Message stays raw here.
type frameEnvelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type messageEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const (
	frameWelcome             = "welcome"
	framePing                = "ping"
	frameConfirmSubscription = "confirm_subscription"

	eventMessageCreated = "message_created"
	eventTypingOn       = "conversation_typing_on"
	eventTypingOff      = "conversation_typing_off"
	eventPresenceUpdate = "presence_update"
)

// DecodeEvent parses one raw text frame into a typed Event. Frames that are
// well-formed JSON but match no documented shape decode to EventUnknown; an
// error is returned only for frames that cannot be parsed at all or whose
// data payload contradicts its declared sub-type.
func DecodeEvent(raw []byte) (Event, error) {
	var env frameEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch env.Type {
	case frameWelcome:
		return Event{Type: EventWelcome}, nil
	case framePing:
		return Event{Type: EventPing}, nil
	case frameConfirmSubscription:
		return Event{Type: EventConfirmSubscription}, nil
	}

	if len(env.Message) == 0 {
		return Event{Type: EventUnknown}, nil
	}

	var msg messageEnvelope
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		return Event{}, fmt.Errorf("decode message envelope: %w", err)
	}

	switch msg.Event {
	case eventMessageCreated:
		var m Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return Event{}, fmt.Errorf("decode %s data: %w", msg.Event, err)
		}
		return Event{Type: EventMessageCreated, Message: &m}, nil
	case eventTypingOn:
		return Event{Type: EventTypingOn}, nil
	case eventTypingOff:
		return Event{Type: EventTypingOff}, nil
	case eventPresenceUpdate:
		var presence map[string]string
		if err := json.Unmarshal(msg.Data, &presence); err != nil {
			return Event{}, fmt.Errorf("decode %s data: %w", msg.Event, err)
		}
		return Event{Type: EventPresenceUpdate, Presence: presence}, nil
	default:
		return Event{Type: EventUnknown}, nil
	}
}
