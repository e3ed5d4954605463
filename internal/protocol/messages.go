// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
	TypeMarkRead    = "mark_read"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeRoomSnapshot = "room_snapshot"
	TypeMessage      = "message"
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypeServerTyping = "typing" // same name on the wire, server-shaped payload
	TypeReadReceipt  = "read_receipt"
	TypeMention      = "mention"
	TypeSystem       = "system"
	TypeError        = "error"
	TypeHeartbeat    = "heartbeat"
	TypePong         = "pong"
)

// Typing action values.
const (
	TypingStart = "start"
	TypingStop  = "stop"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinRoomMsg asks the server to subscribe the connection to a room.
type JoinRoomMsg struct {
	Type    string `json:"type"`
	RoomKey string `json:"room_key"`
}

// LeaveRoomMsg asks the server to unsubscribe the connection from a room.
type LeaveRoomMsg struct {
	Type    string `json:"type"`
	RoomKey string `json:"room_key"`
}

// SendMessageMsg is a chat message sent by the client to a room.
type SendMessageMsg struct {
	Type       string `json:"type"`
	RoomKey    string `json:"room_key"`
	Body       string `json:"body"`
	Attachment string `json:"attachment,omitempty"`
}

// ClientTypingMsg signals that the client started or stopped typing in a room.
type ClientTypingMsg struct {
	Type    string `json:"type"`
	RoomKey string `json:"room_key"`
	Action  string `json:"action"` // start | stop
}

// MarkReadMsg records read receipts for one or more messages.
type MarkReadMsg struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"message_ids"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg acknowledges a successful connection.
type ConnectedMsg struct {
	Type       string `json:"type"`
	IdentityID string `json:"identity_id"`
	Role       string `json:"role"`
}

// WireMessage is a message envelope as it appears on the wire.
type WireMessage struct {
	MessageID  string `json:"message_id"`
	RoomKey    string `json:"room_key"`
	ItemID     string `json:"item_id,omitempty"`
	Author     string `json:"author"`
	Body       string `json:"body"`
	Attachment string `json:"attachment,omitempty"`
	CreatedAt  int64  `json:"created_at"` // unix milliseconds
}

// RoomSnapshotMsg is sent after a successful join with recent room history.
type RoomSnapshotMsg struct {
	Type           string        `json:"type"`
	RoomKey        string        `json:"room_key"`
	RecentMessages []WireMessage `json:"recent_messages"`
}

// ChatMessageMsg delivers a room message to a subscriber.
type ChatMessageMsg struct {
	Type    string      `json:"type"`
	Message WireMessage `json:"message"`
}

// PresenceMsg announces a user joining or leaving a room (sent as
// user_joined or user_left).
type PresenceMsg struct {
	Type       string `json:"type"`
	RoomKey    string `json:"room_key"`
	IdentityID string `json:"identity_id"`
}

// ServerTypingMsg relays another member's typing indicator.
type ServerTypingMsg struct {
	Type       string `json:"type"`
	RoomKey    string `json:"room_key"`
	IdentityID string `json:"identity_id"`
	Action     string `json:"action"`
}

// ReadReceiptMsg announces that a member read a message.
type ReadReceiptMsg struct {
	Type       string `json:"type"`
	MessageID  string `json:"message_id"`
	IdentityID string `json:"identity_id"`
	ReadAt     int64  `json:"read_at"` // unix milliseconds
}

// MentionMsg is delivered on the personal channel when the identity is
// mentioned in a room message.
type MentionMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	RoomKey   string `json:"room_key"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatMsg is a periodic server keepalive with no payload semantics.
type HeartbeatMsg struct {
	Type string `json:"type"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m ClientTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
