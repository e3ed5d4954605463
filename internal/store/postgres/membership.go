package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cartly/chat-engine/internal/engine"
)

// MembershipStore resolves the commerce membership graph from PostgreSQL:
// who belongs to which group, which group backs an item or order, and which
// agent handles an order's support chat. It implements engine.MembershipStore.
type MembershipStore struct {
	db *sql.DB
}

// NewMembershipStore creates a membership store backed by the given database
// handle.
func NewMembershipStore(db *sql.DB) *MembershipStore {
	return &MembershipStore{db: db}
}

// IsMember reports whether the identity belongs to the group.
func (s *MembershipStore) IsMember(ctx context.Context, identity, group string) (bool, error) {
	const query = `
		SELECT 1 FROM group_members
		WHERE group_id = $1 AND user_id = $2`

	var one int
	err := s.db.QueryRowContext(ctx, query, group, identity).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: membership check: %w", err)
	}
	return true, nil
}

// ItemGroup returns the group an item belongs to.
func (s *MembershipStore) ItemGroup(ctx context.Context, item string) (string, error) {
	const query = `SELECT group_id FROM items WHERE id = $1`

	var group string
	err := s.db.QueryRowContext(ctx, query, item).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("postgres: item %q: %w", item, engine.ErrUnknownEntity)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: item group: %w", err)
	}
	return group, nil
}

// OrderGroup returns the group an order was placed in.
func (s *MembershipStore) OrderGroup(ctx context.Context, order string) (string, error) {
	const query = `SELECT group_id FROM orders WHERE id = $1`

	var group string
	err := s.db.QueryRowContext(ctx, query, order).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("postgres: order %q: %w", order, engine.ErrUnknownEntity)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: order group: %w", err)
	}
	return group, nil
}

// SupportAgent returns the agent assigned to an order's support chat, or ""
// when no agent is assigned yet.
func (s *MembershipStore) SupportAgent(ctx context.Context, order string) (string, error) {
	const query = `SELECT support_agent FROM orders WHERE id = $1`

	var agent sql.NullString
	err := s.db.QueryRowContext(ctx, query, order).Scan(&agent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("postgres: order %q: %w", order, engine.ErrUnknownEntity)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: support agent: %w", err)
	}
	return agent.String, nil
}

// Members lists the current members of a room with their display names.
// Group-backed rooms resolve through their backing group; personal channels
// have exactly one member, the owner.
func (s *MembershipStore) Members(ctx context.Context, room engine.RoomKey) ([]engine.Member, error) {
	switch room.Kind {
	case engine.RoomPersonal:
		return s.userMember(ctx, room.Target)
	case engine.RoomGroup:
		return s.groupMembers(ctx, room.Target)
	case engine.RoomItem:
		group, err := s.ItemGroup(ctx, room.Target)
		if err != nil {
			return nil, err
		}
		return s.groupMembers(ctx, group)
	case engine.RoomSupport:
		group, err := s.OrderGroup(ctx, room.Target)
		if err != nil {
			return nil, err
		}
		return s.groupMembers(ctx, group)
	default:
		return nil, fmt.Errorf("postgres: unknown room kind %q", room.Kind)
	}
}

func (s *MembershipStore) userMember(ctx context.Context, identity string) ([]engine.Member, error) {
	const query = `SELECT id, display_name FROM users WHERE id = $1`

	var m engine.Member
	err := s.db.QueryRowContext(ctx, query, identity).Scan(&m.Identity, &m.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: user lookup: %w", err)
	}
	return []engine.Member{m}, nil
}

func (s *MembershipStore) groupMembers(ctx context.Context, group string) ([]engine.Member, error) {
	const query = `
		SELECT u.id, u.display_name
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
		ORDER BY u.id`

	rows, err := s.db.QueryContext(ctx, query, group)
	if err != nil {
		return nil, fmt.Errorf("postgres: query members: %w", err)
	}
	defer rows.Close()

	var out []engine.Member
	for rows.Next() {
		var m engine.Member
		if err := rows.Scan(&m.Identity, &m.DisplayName); err != nil {
			return nil, fmt.Errorf("postgres: scan member: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan members: %w", err)
	}
	return out, nil
}
