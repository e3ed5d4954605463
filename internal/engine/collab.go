package engine

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownEntity marks a lookup whose subject does not exist, as opposed to
// a lookup that failed. MembershipStore implementations wrap it for missing
// items and orders so the gate can answer not_found instead of treating the
// store as unavailable.
var ErrUnknownEntity = errors.New("unknown entity")

// Role is the closed set of identity roles the engine recognizes.
type Role string

const (
	RoleMember        Role = "member"
	RoleSupportAgent  Role = "support-agent"
	RoleAdministrator Role = "administrator"
)

// Verifier validates a credential token with the identity provider and
// resolves the identity behind it. Verification happens once, at connect
// time; a connection's identity and role are immutable afterwards.
type Verifier interface {
	Verify(ctx context.Context, token string) (identity string, role Role, err error)
}

// MessageStore is the external durable message storage. The engine persists
// envelopes into it and reads recent history windows for room snapshots; it
// never owns the durable copy.
type MessageStore interface {
	Persist(ctx context.Context, env *Envelope) error
	History(ctx context.Context, room RoomKey, limit int) ([]Envelope, error)
	// Envelope resolves a single message by id, used by read receipts to
	// find the message's author and room.
	Envelope(ctx context.Context, messageID string) (*Envelope, error)
}

// Member is a room member as known to the membership store.
type Member struct {
	Identity    string
	DisplayName string
}

// MembershipStore resolves group membership and room backing data. The
// engine queries it on every join; membership is never cached across calls.
type MembershipStore interface {
	IsMember(ctx context.Context, identity, group string) (bool, error)
	// ItemGroup returns the group an item belongs to.
	ItemGroup(ctx context.Context, item string) (string, error)
	// OrderGroup returns the group an order was placed in.
	OrderGroup(ctx context.Context, order string) (string, error)
	// SupportAgent returns the identity of the agent assigned to an order's
	// support chat, or "" when no agent is assigned.
	SupportAgent(ctx context.Context, order string) (string, error)
	// Members lists the current members of the room with their display
	// names, used by mention resolution and offline fallback dispatch.
	Members(ctx context.Context, room RoomKey) ([]Member, error)
}

// PushPayload is the notification forwarded to the push sink for an offline
// recipient.
type PushPayload struct {
	Title   string `json:"title"`
	Preview string `json:"preview"`
	RoomKey string `json:"room_key"`
}

// PushSink is the external push notification transport. Delivery is fire and
// forget; the sink owns its own retry policy.
type PushSink interface {
	Notify(ctx context.Context, identity string, payload PushPayload) error
}

// MentionSink records resolved mentions into the external mention inbox,
// independent of the recipient's online state.
type MentionSink interface {
	Record(ctx context.Context, identity, messageID string, room RoomKey) error
}

// ReceiptStore persists read receipts. Mark must be monotonic: the first
// write for a (message, identity) pair wins and later writes return the
// original timestamp with set=false.
type ReceiptStore interface {
	Mark(ctx context.Context, messageID, identity string, at time.Time) (readAt time.Time, set bool, err error)
}
