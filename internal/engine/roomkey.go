package engine

import (
	"fmt"
	"strings"
)

// RoomKind identifies the conversation scope a room key refers to.
type RoomKind string

const (
	// RoomGroup is the shared chat of a shopping group.
	RoomGroup RoomKind = "group"
	// RoomItem is the discussion thread attached to a single item.
	RoomItem RoomKind = "item"
	// RoomSupport is the support chat attached to an order.
	RoomSupport RoomKind = "support"
	// RoomPersonal is an identity's private channel for direct events
	// (mentions, acknowledgements). Every connection is subscribed to its
	// identity's personal room automatically.
	RoomPersonal RoomKind = "user"
)

// RoomKey is the stable identifier of a room: a conversation kind plus the
// id of its target (group, item, order, or identity). Rooms are not
// pre-created; a key is valid the moment someone is authorized to join it.
type RoomKey struct {
	Kind   RoomKind
	Target string
}

// String renders the key in its wire form, e.g. "group:G1" or "item:I7".
func (k RoomKey) String() string {
	return string(k.Kind) + ":" + k.Target
}

// PersonalRoom returns the personal channel key for an identity.
func PersonalRoom(identity string) RoomKey {
	return RoomKey{Kind: RoomPersonal, Target: identity}
}

// ParseRoomKey parses a wire-form room key ("kind:target"). The kind must be
// one of the known conversation kinds and the target must be non-empty.
func ParseRoomKey(s string) (RoomKey, error) {
	kind, target, ok := strings.Cut(s, ":")
	if !ok || target == "" {
		return RoomKey{}, fmt.Errorf("engine: malformed room key %q", s)
	}

	switch RoomKind(kind) {
	case RoomGroup, RoomItem, RoomSupport, RoomPersonal:
		return RoomKey{Kind: RoomKind(kind), Target: target}, nil
	default:
		return RoomKey{}, fmt.Errorf("engine: unknown room kind %q", kind)
	}
}
