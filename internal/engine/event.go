package engine

import "time"

// EventKind discriminates the events the broadcaster delivers to connections.
type EventKind string

const (
	EventMessage     EventKind = "message"
	EventTyping      EventKind = "typing"
	EventPresence    EventKind = "presence"
	EventMention     EventKind = "mention"
	EventReadReceipt EventKind = "read_receipt"
	EventSystem      EventKind = "system"
	EventError       EventKind = "error"
	EventHeartbeat   EventKind = "heartbeat"
)

// Presence and typing action values carried in Event.Action.
const (
	ActionJoined = "joined"
	ActionLeft   = "left"
	ActionStart  = "start"
	ActionStop   = "stop"
)

// Envelope is the in-flight form of a message as it moves through the
// broadcaster. The durable copy is owned by the message store; the engine
// only carries this envelope.
type Envelope struct {
	ID         string    `json:"message_id"`
	Room       RoomKey   `json:"-"`
	RoomString string    `json:"room_key"`
	ItemID     string    `json:"item_id,omitempty"`
	Author     string    `json:"author"`
	Body       string    `json:"body"`
	Attachment string    `json:"attachment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is the typed union delivered to subscribed connections. Exactly the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind
	Room RoomKey

	// Origin is the connection id the event originated from, if any. The
	// broadcaster never delivers an event back to its origin connection;
	// other connections of the same identity still receive it.
	Origin string

	// Envelope is set for message and system events.
	Envelope *Envelope

	// Identity is the subject of presence, typing, and read_receipt events.
	Identity string

	// Action is joined/left for presence and start/stop for typing.
	Action string

	// MessageID is set for mention and read_receipt events.
	MessageID string

	// ReadAt is set for read_receipt events.
	ReadAt time.Time

	// Err is set for error events.
	Err *Error
}

// Snapshot is returned from a successful room join: the room key plus a
// recent window of message history.
type Snapshot struct {
	Room   RoomKey
	Recent []Envelope
	Rejoin bool // true when the (connection, room) pair was already subscribed
}
