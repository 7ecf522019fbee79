package core

import "encoding/json"

// EventKind is the closed set of payloads that cross the bus. Controllers
// decode once at the bus boundary and switch on the kind; unknown kinds are
// dropped by the receiver.
type EventKind string

const (
	EventMemberCount EventKind = "member_count"
	EventChatMessage EventKind = "chat_message"
	EventNewPeer     EventKind = "new_peer"
	EventUserLeft    EventKind = "user_left"
	EventSignal      EventKind = "signal"
)

// Event is one bus message. Only the fields relevant to the kind are set:
// Count for member_count, Payload for chat_message, Username/Exclude for
// new_peer, From for user_left, From/To/Payload for signal.
type Event struct {
	Kind     EventKind       `json:"kind"`
	Count    int64           `json:"count,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Username string          `json:"username,omitempty"`
	Exclude  SessionID       `json:"exclude,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
