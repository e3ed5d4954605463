package engine

import (
	"context"
	"errors"
	"log"
)

// Action is the operation being authorized against a room.
type Action string

const (
	ActionJoin Action = "join"
	ActionSend Action = "send"
	ActionRead Action = "read"
)

// Gate evaluates per-room authorization. Rules are checked in order and the
// first match wins; there is no grant-by-default path — a failed lookup is a
// denial, not a pass. The sole exception is SupportOverride, an explicit
// opt-in that lets support agents through when the assignment lookup errors;
// every use is logged as an override.
type Gate struct {
	members MembershipStore

	// SupportOverride grants support agents access to a support chat when
	// the assignment lookup fails with an error (not when it cleanly
	// reports another agent). Off by default.
	SupportOverride bool
}

// NewGate builds a gate over the given membership store.
func NewGate(members MembershipStore) *Gate {
	return &Gate{members: members}
}

// Authorize returns nil when identity/role may perform action on the room,
// or an *Error otherwise: access_denied for rule failures, not_found when
// the room's backing entity does not exist, upstream_error when a lookup
// failed and existence could not be determined. Every denial is logged here
// so rejections are always observable.
func (g *Gate) Authorize(ctx context.Context, identity string, role Role, key RoomKey, action Action) error {
	err := g.evaluate(ctx, identity, role, key, action)
	if err != nil {
		log.Printf("gate: denied identity=%s role=%s room=%s action=%s: %v",
			identity, role, key, action, err)
	}
	return err
}

func (g *Gate) evaluate(ctx context.Context, identity string, role Role, key RoomKey, action Action) error {
	// Personal channels belong to exactly one identity.
	if key.Kind == RoomPersonal {
		if key.Target == identity || role == RoleAdministrator {
			return nil
		}
		return engineError(CodeAccessDenied, "room %s is a personal channel", key)
	}

	switch role {
	case RoleAdministrator:
		return nil

	case RoleMember:
		group, err := g.backingGroup(ctx, key)
		if err != nil {
			return err
		}
		ok, err := g.members.IsMember(ctx, identity, group)
		if err != nil {
			return engineError(CodeAccessDenied, "membership lookup failed for %s: %v", key, err)
		}
		if !ok {
			return engineError(CodeAccessDenied, "identity %s is not a member of group %s", identity, group)
		}
		return nil

	case RoleSupportAgent:
		if key.Kind != RoomSupport {
			return engineError(CodeAccessDenied, "support agents may only access support chats")
		}
		agent, err := g.members.SupportAgent(ctx, key.Target)
		if err != nil {
			if g.SupportOverride {
				log.Printf("gate: OVERRIDE granting agent=%s room=%s after assignment lookup error: %v",
					identity, key, err)
				return nil
			}
			return engineError(CodeAccessDenied, "agent assignment lookup failed for order %s: %v", key.Target, err)
		}
		if agent == "" || agent != identity {
			return engineError(CodeAccessDenied, "identity %s is not the assigned agent for order %s", identity, key.Target)
		}
		return nil

	default:
		return engineError(CodeAccessDenied, "unknown role %q", role)
	}
}

// backingGroup resolves the group a room key is backed by: the group itself,
// the item's group, or the order's group. A missing entity is not_found; a
// lookup that failed for any other reason is upstream_error, so a transient
// store outage is never mistaken for a nonexistent room.
func (g *Gate) backingGroup(ctx context.Context, key RoomKey) (string, error) {
	switch key.Kind {
	case RoomGroup:
		return key.Target, nil
	case RoomItem:
		group, err := g.members.ItemGroup(ctx, key.Target)
		if err != nil {
			if errors.Is(err, ErrUnknownEntity) {
				return "", engineError(CodeNotFound, "item %s not found", key.Target)
			}
			return "", engineError(CodeUpstreamError, "item lookup failed for %s: %v", key.Target, err)
		}
		return group, nil
	case RoomSupport:
		group, err := g.members.OrderGroup(ctx, key.Target)
		if err != nil {
			if errors.Is(err, ErrUnknownEntity) {
				return "", engineError(CodeNotFound, "order %s not found", key.Target)
			}
			return "", engineError(CodeUpstreamError, "order lookup failed for %s: %v", key.Target, err)
		}
		return group, nil
	default:
		return "", engineError(CodeNotFound, "room %s has no backing group", key)
	}
}
